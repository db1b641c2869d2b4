package pipeline

import (
	"math/bits"

	"filmdupe/internal/cache"
	"filmdupe/internal/phashindex"
)

// toIndexFingerprint converts a cached Fingerprint into the shape
// internal/phashindex needs, tagging every frame with the owning video path.
func toIndexFingerprint(path string, fp cache.Fingerprint) phashindex.Fingerprint {
	out := phashindex.Fingerprint{Frames: make([]phashindex.FrameReference, len(fp.Frames))}
	for i, f := range fp.Frames {
		out.Frames[i] = phashindex.FrameReference{
			VideoPath:    path,
			FrameIndex:   f.Index,
			TimestampSec: f.TimestampSec,
			PHash:        f.PHash,
		}
	}
	return out
}

// hamming returns the number of differing bits between two 64-bit
// perceptual hashes.
func hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// hammingStats finds, for each frame in a, the closest frame in b within
// thresholdBits (if any), and returns the average and maximum Hamming
// distance across those matches plus how many frames matched. Used for
// visual-duplicate evidence (NewVisualEdge) on full-duplicate overlaps, and
// as the whole grouping test in fast mode, where no streak search runs.
func hammingStats(a, b phashindex.Fingerprint, thresholdBits int) (avg float64, max int, matched int) {
	var total int
	for _, af := range a.Frames {
		best := -1
		for _, bf := range b.Frames {
			d := hamming(af.PHash, bf.PHash)
			if d <= thresholdBits && (best == -1 || d < best) {
				best = d
			}
		}
		if best >= 0 {
			total += best
			matched++
			if best > max {
				max = best
			}
		}
	}
	if matched == 0 {
		return 0, 0, 0
	}
	return float64(total) / float64(matched), max, matched
}

// pairKey is an unordered pair of record indices, used to deduplicate
// candidate pairs discovered independently from both sides of a match.
type pairKey struct{ lo, hi int }

func newPairKey(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

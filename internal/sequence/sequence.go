// Package sequence finds contiguous perceptual-hash overlap between two
// video fingerprints by locating the longest near-diagonal run in their
// match matrix: a run of frame matches whose indices advance together is
// evidence of shared content playing out over time, which a bag-of-frames
// comparison cannot distinguish from coincidental stills.
package sequence

import (
	"sort"

	"filmdupe/internal/phashindex"
)

// Options bounds the matcher's tolerance. Zero values fall back to the
// pipeline's defaults.
type Options struct {
	HammingThreshold int     // max per-frame Hamming distance to count as a match; default 12
	GapTolerance     int     // max allowed gap between consecutive streak frames; default 2
	MinStreakLength  int     // minimum run length to consider; default 5
	MinOverlapRatio  float64 // minimum overlap_ratio to emit a match; default 0.10
}

func (o Options) withDefaults() Options {
	if o.HammingThreshold == 0 {
		o.HammingThreshold = 12
	}
	if o.GapTolerance == 0 {
		o.GapTolerance = 2
	}
	if o.MinStreakLength == 0 {
		o.MinStreakLength = 5
	}
	if o.MinOverlapRatio == 0 {
		o.MinOverlapRatio = 0.10
	}
	return o
}

// Classification labels an OverlapMatch by how much of the longer video it covers.
type Classification string

const (
	FullDuplicate Classification = "full_duplicate"
	Subset        Classification = "subset"
)

// OverlapMatch describes the longest contiguous overlap found between two
// fingerprints.
type OverlapMatch struct {
	AStartFrame, AEndFrame int
	BStartFrame, BEndFrame int
	AStartSec, AEndSec     float64
	BStartSec, BEndSec     float64
	OverlapDurationSec     float64
	OverlapRatio           float64
	Classification         Classification
}

type pair struct {
	i, j       int
	aSec, bSec float64
}

// Match compares fingerprints a and b (durations durationA/durationB
// seconds) and returns the longest qualifying overlap, or ok=false if none
// meets opts.MinOverlapRatio.
func Match(a, b phashindex.Fingerprint, durationA, durationB float64, opts Options) (OverlapMatch, bool) {
	opts = opts.withDefaults()

	pairs := matchPairs(a, b, opts.HammingThreshold)
	if len(pairs) == 0 {
		return OverlapMatch{}, false
	}

	sort.Slice(pairs, func(x, y int) bool {
		if pairs[x].i != pairs[y].i {
			return pairs[x].i < pairs[y].i
		}
		return pairs[x].j < pairs[y].j
	})

	run := longestStreak(pairs, opts.GapTolerance)
	if len(run) < opts.MinStreakLength {
		return OverlapMatch{}, false
	}

	first, last := run[0], run[len(run)-1]
	aDur := last.aSec - first.aSec
	bDur := last.bSec - first.bSec
	overlapDuration := min2(aDur, bDur)

	maxDuration := durationA
	if durationB > maxDuration {
		maxDuration = durationB
	}
	if maxDuration <= 0 {
		return OverlapMatch{}, false
	}

	ratio := overlapDuration / maxDuration
	if ratio < opts.MinOverlapRatio {
		return OverlapMatch{}, false
	}

	classification := Subset
	if ratio >= 0.95 {
		classification = FullDuplicate
	}

	return OverlapMatch{
		AStartFrame:        first.i,
		AEndFrame:          last.i,
		BStartFrame:        first.j,
		BEndFrame:          last.j,
		AStartSec:          first.aSec,
		AEndSec:            last.aSec,
		BStartSec:          first.bSec,
		BEndSec:            last.bSec,
		OverlapDurationSec: overlapDuration,
		OverlapRatio:       ratio,
		Classification:     classification,
	}, true
}

// matchPairs queries an index built from b's frames with every frame in a,
// emitting one pair per (query frame, candidate frame) match within
// thresholdBits.
func matchPairs(a, b phashindex.Fingerprint, thresholdBits int) []pair {
	idx := phashindex.New()
	idx.Insert("b", b)

	var pairs []pair
	for _, af := range a.Frames {
		for _, ref := range idx.Query(af.PHash, thresholdBits, "") {
			pairs = append(pairs, pair{i: af.FrameIndex, j: ref.FrameIndex, aSec: af.TimestampSec, bSec: ref.TimestampSec})
		}
	}
	return pairs
}

// longestStreak scans sorted pairs for maximal runs where consecutive pairs
// advance i by exactly 1 and j by at most gapTolerance+1, returning the
// longest one. Ties prefer the run with the smallest starting i.
func longestStreak(sorted []pair, gapTolerance int) []pair {
	var best []pair
	var current []pair

	for _, p := range sorted {
		if len(current) == 0 {
			current = []pair{p}
			continue
		}
		prev := current[len(current)-1]
		if p.i == prev.i {
			// Same query frame matched multiple candidates; keep the
			// earlier candidate in the run, ignore the rest.
			continue
		}
		if p.i == prev.i+1 && abs(p.j-prev.j-1) <= gapTolerance {
			current = append(current, p)
		} else {
			if len(current) > len(best) {
				best = current
			}
			current = []pair{p}
		}
	}
	if len(current) > len(best) {
		best = current
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Package phashindex implements a bucketed LSH index over 64-bit perceptual
// hashes: each hash is split into four disjoint 16-bit segments, and the
// index maps each segment value to the frames sharing it. A lookup only
// reaches frames that agree with the query on at least one whole segment.
// Every hash within 3 bits of the query does (four segments, at most three
// of them touched), so recall is complete up to 3 bits; a frame further away
// whose differing bits fall in all four segments is not found, whatever the
// threshold.
package phashindex

import "math/bits"

const (
	segmentBits  = 16
	segmentCount = 4
)

// FrameReference identifies one sampled, hashed frame belonging to a video.
type FrameReference struct {
	VideoPath    string
	FrameIndex   int
	TimestampSec float64
	PHash        uint64
}

// VideoMatch is one candidate video and how many of its frames matched the
// query fingerprint.
type VideoMatch struct {
	VideoPath  string
	MatchCount int
}

// Fingerprint is the minimal shape Index needs from a video's computed
// perceptual-hash sequence.
type Fingerprint struct {
	Frames []FrameReference
}

// Index is a bucketed LSH index over 64-bit perceptual hashes. Segment-based
// lookup narrows candidates; Hamming distance over the full 64 bits is
// always the final arbiter, so the index has no false positives. It misses
// a frame within the threshold when that frame differs from the query in
// all four 16-bit segments, which is possible at any distance above 3 bits.
type Index struct {
	segments [segmentCount]map[uint16][]FrameReference
}

// New returns an empty Index.
func New() *Index {
	idx := &Index{}
	for i := range idx.segments {
		idx.segments[i] = make(map[uint16][]FrameReference)
	}
	return idx
}

// Insert adds every frame of fp, associated with videoPath, under all four
// of its segment keys.
func (idx *Index) Insert(videoPath string, fp Fingerprint) {
	for _, f := range fp.Frames {
		ref := FrameReference{
			VideoPath:    videoPath,
			FrameIndex:   f.FrameIndex,
			TimestampSec: f.TimestampSec,
			PHash:        f.PHash,
		}
		for seg, key := range segmentKeys(f.PHash) {
			idx.segments[seg][key] = append(idx.segments[seg][key], ref)
		}
	}
}

// Query returns every indexed frame whose true Hamming distance to phash is
// at most thresholdBits, excluding frames from excludeVideo (pass "" to
// exclude nothing).
func (idx *Index) Query(phash uint64, thresholdBits int, excludeVideo string) []FrameReference {
	seen := make(map[FrameReference]bool)
	var out []FrameReference

	for seg, key := range segmentKeys(phash) {
		for _, ref := range idx.segments[seg][key] {
			if ref.VideoPath == excludeVideo || seen[ref] {
				continue
			}
			seen[ref] = true
			if hamming(phash, ref.PHash) <= thresholdBits {
				out = append(out, ref)
			}
		}
	}
	return out
}

// FindMatchingVideos finds every video with at least minMatchingFrames
// distinct (query frame, candidate frame) pairs matching fp's frames within
// thresholdBits, ordered by match count descending. queryVideo is excluded
// from its own results.
func (idx *Index) FindMatchingVideos(fp Fingerprint, queryVideo string, thresholdBits, minMatchingFrames int) []VideoMatch {
	type pairKey struct {
		video     string
		queryIdx  int
		candidate int
	}
	seenPairs := make(map[pairKey]bool)
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, qf := range fp.Frames {
		for _, ref := range idx.Query(qf.PHash, thresholdBits, queryVideo) {
			key := pairKey{video: ref.VideoPath, queryIdx: qf.FrameIndex, candidate: ref.FrameIndex}
			if seenPairs[key] {
				continue
			}
			seenPairs[key] = true
			if counts[ref.VideoPath] == 0 {
				order = append(order, ref.VideoPath)
			}
			counts[ref.VideoPath]++
		}
	}

	matches := make([]VideoMatch, 0, len(order))
	for _, v := range order {
		if counts[v] >= minMatchingFrames {
			matches = append(matches, VideoMatch{VideoPath: v, MatchCount: counts[v]})
		}
	}
	sortMatchesDescending(matches)
	return matches
}

func sortMatchesDescending(matches []VideoMatch) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].MatchCount > matches[j-1].MatchCount; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// segmentKeys splits phash into its four disjoint 16-bit segments.
func segmentKeys(phash uint64) [segmentCount]uint16 {
	var keys [segmentCount]uint16
	for i := range keys {
		shift := uint(segmentBits * (segmentCount - 1 - i))
		keys[i] = uint16(phash >> shift)
	}
	return keys
}

func hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

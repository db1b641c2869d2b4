// Package grouper forms duplicate groups from the match edges the pipeline
// discovers (exact full-hash equality, visual pHash similarity, subset
// temporal overlap) and selects a winner within each group through an
// ordered chain of tie-breakers.
package grouper

import (
	"fmt"
	"sort"
	"time"

	"filmdupe/internal/cache"
	"filmdupe/internal/config"
	"filmdupe/internal/sequence"
	"filmdupe/internal/types"
)

// Kind labels a DuplicateGroup by its strongest supporting edge.
type Kind string

const (
	KindExact  Kind = "exact"
	KindVisual Kind = "visual"
	KindSubset Kind = "subset"
)

// rank orders kinds by strength: exact ≻ visual ≻ subset.
func (k Kind) rank() int {
	switch k {
	case KindExact:
		return 3
	case KindVisual:
		return 2
	case KindSubset:
		return 1
	default:
		return 0
	}
}

// ExactEvidence is the evidence payload for an exact-duplicate group.
type ExactEvidence struct {
	FullHashDigest string `json:"full_hash_digest"`
}

// VisualEvidence is the evidence payload for a visual-duplicate group.
type VisualEvidence struct {
	AvgHamming        float64 `json:"avg_hamming"`
	MaxHamming        int     `json:"max_hamming"`
	PHashThreshold    int     `json:"phash_threshold"`
	MatchedFrameCount int     `json:"matched_frame_count"`
}

// SubsetEvidence is the evidence payload for a subset/partial-overlap group.
type SubsetEvidence struct {
	VideoA               string  `json:"video_a"`
	VideoB               string  `json:"video_b"`
	OverlapDurationSec   float64 `json:"overlap_duration_sec"`
	OverlapRatio         float64 `json:"overlap_ratio"`
	ARangeStart          float64 `json:"a_range_start"`
	ARangeEnd            float64 `json:"a_range_end"`
	BRangeStart          float64 `json:"b_range_start"`
	BRangeEnd            float64 `json:"b_range_end"`
	MatchingFrames       int     `json:"matching_frames"`
	DiagonalStreakLength int     `json:"diagonal_streak_length"`
}

// Edge is one match between two files in the input slab, indexed by their
// position. Evidence holds the kind-specific payload (ExactEvidence,
// VisualEvidence, or SubsetEvidence) already shaped for the report.
type Edge struct {
	A, B     int
	Kind     Kind
	Evidence any
}

// NewExactEdge builds an Edge from a confirmed full-hash collision.
func NewExactEdge(a, b int, digest string) Edge {
	return Edge{A: a, B: b, Kind: KindExact, Evidence: ExactEvidence{FullHashDigest: digest}}
}

// NewVisualEdge builds an Edge for two files that are visually similar
// throughout rather than a subset of one another: a SequenceMatcher overlap
// classified as full duplication, or, in fast mode, a pair whose matched
// frames cover most of the shorter fingerprint.
func NewVisualEdge(a, b int, avgHamming float64, maxHamming, threshold, matchedFrames int) Edge {
	return Edge{A: a, B: b, Kind: KindVisual, Evidence: VisualEvidence{
		AvgHamming: avgHamming, MaxHamming: maxHamming,
		PHashThreshold: threshold, MatchedFrameCount: matchedFrames,
	}}
}

// NewSubsetEdge builds an Edge from a SequenceMatcher OverlapMatch whose
// classification stayed below full duplication (the pipeline reports
// wall-to-wall overlaps as visual edges instead).
func NewSubsetEdge(a, b int, pathA, pathB string, m sequence.OverlapMatch) Edge {
	streakLen := m.AEndFrame - m.AStartFrame + 1
	ev := SubsetEvidence{
		VideoA: pathA, VideoB: pathB,
		OverlapDurationSec:   m.OverlapDurationSec,
		OverlapRatio:         m.OverlapRatio,
		ARangeStart:          m.AStartSec,
		ARangeEnd:            m.AEndSec,
		BRangeStart:          m.BStartSec,
		BRangeEnd:            m.BEndSec,
		MatchingFrames:       streakLen,
		DiagonalStreakLength: streakLen,
	}
	return Edge{A: a, B: b, Kind: KindSubset, Evidence: ev}
}

// Member is a file's report-facing representation within a group.
type Member struct {
	Path   string
	Size   int64
	Reason string
}

// Group is one connected component of matched files: a winner to retain and
// an ordered (by path) list of losers, plus the evidence for the component's
// strongest edge kind.
type Group struct {
	ID       string
	Kind     Kind
	Winner   Member
	Losers   []Member
	Evidence any
}

// Input is everything the Grouper needs: the file slab (addressed by
// index), optional probed metadata per index, and the match edges
// discovered by earlier stages.
type Input struct {
	Files     []*types.FileMeta
	VideoMeta map[int]*cache.VideoMeta // index -> probed metadata, optional
	Edges     []Edge
}

// unionFind is a plain slab-indexed disjoint-set structure, avoiding the
// pointer-based ownership cycles a graph-of-pointers representation would
// introduce.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}

// BuildGroups builds connected components from in.Edges and selects a winner
// within each component under policy, returning one Group per component
// with 2 or more members. Components are emitted in a deterministic order
// (by the winner's path) so re-running on the same input reproduces a
// byte-identical group list.
func BuildGroups(in Input, policy config.KeepPolicy) []Group {
	n := len(in.Files)
	if n == 0 {
		return nil
	}

	uf := newUnionFind(n)
	for _, e := range in.Edges {
		uf.union(e.A, e.B)
	}

	components := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	strongestEdge := make(map[int]Edge) // root -> edge with highest rank seen
	for _, e := range in.Edges {
		root := uf.find(e.A)
		cur, ok := strongestEdge[root]
		if !ok || e.Kind.rank() > cur.Kind.rank() {
			strongestEdge[root] = e
		}
	}

	var groups []Group
	for root, members := range components {
		if len(members) < 2 {
			continue
		}
		kind := strongestEdge[root].Kind
		winnerIdx, reasons := selectWinner(members, in, policy)

		var losers []Member
		for _, idx := range members {
			if idx == winnerIdx {
				continue
			}
			losers = append(losers, Member{
				Path:   in.Files[idx].Path,
				Size:   in.Files[idx].Size,
				Reason: "not selected as winner",
			})
		}
		sort.Slice(losers, func(i, j int) bool { return losers[i].Path < losers[j].Path })

		groups = append(groups, Group{
			Kind: kind,
			Winner: Member{
				Path:   in.Files[winnerIdx].Path,
				Size:   in.Files[winnerIdx].Size,
				Reason: reasons,
			},
			Losers:   losers,
			Evidence: strongestEdge[root].Evidence,
		})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Winner.Path < groups[j].Winner.Path })
	for i := range groups {
		groups[i].ID = fmt.Sprintf("g-%04d", i+1)
	}
	return groups
}

// selectWinner applies policy's ordered tie-breakers over members (indices
// into in.Files/in.VideoMeta) and returns the winning index plus a short
// human-readable reason string.
func selectWinner(members []int, in Input, policy config.KeepPolicy) (int, string) {
	less := func(a, b int) bool {
		return winnerLess(a, b, in, policy)
	}
	best := members[0]
	for _, idx := range members[1:] {
		if less(idx, best) {
			best = idx
		}
	}
	return best, fmt.Sprintf("%s policy", policy)
}

// winnerLess reports whether candidate a should be preferred over b as the
// group winner, applying policy's tie-breaker chain. The final tie-break is
// always the lexicographically smaller path.
func winnerLess(a, b int, in Input, policy config.KeepPolicy) bool {
	switch policy {
	case config.KeepOldest:
		if c := cmpTime(in.Files[a].ModTime, in.Files[b].ModTime); c != 0 {
			return c < 0
		}
	case config.KeepNewest:
		if c := cmpTime(in.Files[a].ModTime, in.Files[b].ModTime); c != 0 {
			return c > 0
		}
	case config.KeepSmallest:
		if in.Files[a].Size != in.Files[b].Size {
			return in.Files[a].Size < in.Files[b].Size
		}
	case config.KeepLargest:
		if in.Files[a].Size != in.Files[b].Size {
			return in.Files[a].Size > in.Files[b].Size
		}
	default: // best_quality
		return bestQualityLess(a, b, in)
	}
	return in.Files[a].Path < in.Files[b].Path
}

// bestQualityLess implements the best_quality policy's ordered tie-breaker
// chain: resolution, bitrate, duration, size, mtime, path. For subset
// groups the longer-duration file is, by construction, the one the others
// are contained within, so this chain also satisfies "prefer the containing
// file" without a separate branch.
func bestQualityLess(a, b int, in Input) bool {
	va, vb := in.VideoMeta[a], in.VideoMeta[b]

	resA, resB := resolution(va), resolution(vb)
	if resA != resB {
		return resA > resB
	}

	brA, brB := bitrate(va), bitrate(vb)
	if brA != brB {
		return brA > brB
	}

	durA, durB := duration(va), duration(vb)
	if durA != durB {
		return durA > durB
	}

	if in.Files[a].Size != in.Files[b].Size {
		return in.Files[a].Size > in.Files[b].Size
	}

	if c := cmpTime(in.Files[a].ModTime, in.Files[b].ModTime); c != 0 {
		return c < 0 // older wins
	}

	return in.Files[a].Path < in.Files[b].Path
}

func resolution(v *cache.VideoMeta) int64 {
	if v == nil {
		return 0
	}
	return int64(v.Width) * int64(v.Height)
}

func bitrate(v *cache.VideoMeta) int64 {
	if v == nil {
		return 0
	}
	return v.BitrateKbps
}

func duration(v *cache.VideoMeta) float64 {
	if v == nil {
		return 0
	}
	return v.DurationSec
}

// cmpTime returns -1, 0, or 1 as a is before, equal to, or after b.
func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

package grouper

import (
	"testing"
	"time"

	"filmdupe/internal/cache"
	"filmdupe/internal/config"
	"filmdupe/internal/sequence"
	"filmdupe/internal/types"
)

func meta(path string, size int64, mtime time.Time) *types.FileMeta {
	return &types.FileMeta{Path: path, Size: size, ModTime: mtime}
}

func TestGroupExactDuplicatesBestQuality(t *testing.T) {
	now := time.Now()
	files := []*types.FileMeta{
		meta("/a.mp4", 1_000_000_000, now),
		meta("/b.mp4", 1_000_000_000, now),
	}
	in := Input{
		Files: files,
		Edges: []Edge{NewExactEdge(0, 1, "deadbeef")},
	}

	groups := BuildGroups(in, config.KeepBestQuality)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.Kind != KindExact {
		t.Errorf("expected exact kind, got %s", g.Kind)
	}
	if len(g.Losers) != 1 {
		t.Errorf("expected 1 loser, got %d", len(g.Losers))
	}
	// Equal quality -> path tie-break: "/a.mp4" < "/b.mp4"
	if g.Winner.Path != "/a.mp4" {
		t.Errorf("expected /a.mp4 to win on path tie-break, got %s", g.Winner.Path)
	}
}

func TestGroupVisualPrefersHigherResolution(t *testing.T) {
	now := time.Now()
	files := []*types.FileMeta{
		meta("/orig_1080p.mp4", 1200<<20, now),
		meta("/reenc_720p.mp4", 800<<20, now),
	}
	videoMeta := map[int]*cache.VideoMeta{
		0: {Width: 1920, Height: 1080, BitrateKbps: 8000, DurationSec: 5400},
		1: {Width: 1280, Height: 720, BitrateKbps: 3000, DurationSec: 5400},
	}
	in := Input{
		Files:     files,
		VideoMeta: videoMeta,
		Edges:     []Edge{NewVisualEdge(0, 1, 4.2, 10, 12, 120)},
	}

	groups := BuildGroups(in, config.KeepBestQuality)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].Winner.Path != "/orig_1080p.mp4" {
		t.Errorf("expected higher-resolution file to win, got %s", groups[0].Winner.Path)
	}
}

func TestGroupSubsetPrefersContainingFile(t *testing.T) {
	now := time.Now()
	files := []*types.FileMeta{
		meta("/movie_full.mp4", 5<<30, now),
		meta("/movie_clip.mp4", 500<<20, now),
	}
	videoMeta := map[int]*cache.VideoMeta{
		0: {Width: 1920, Height: 1080, DurationSec: 7200},
		1: {Width: 1920, Height: 1080, DurationSec: 900},
	}
	overlap := sequence.OverlapMatch{
		AStartFrame: 600, AEndFrame: 900,
		AStartSec: 600, AEndSec: 1500,
		BStartSec: 0, BEndSec: 900,
		OverlapDurationSec: 900,
		OverlapRatio:       900.0 / 7200.0,
		Classification:     sequence.Subset,
	}
	in := Input{
		Files:     files,
		VideoMeta: videoMeta,
		Edges:     []Edge{NewSubsetEdge(0, 1, "/movie_full.mp4", "/movie_clip.mp4", overlap)},
	}

	groups := BuildGroups(in, config.KeepBestQuality)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.Kind != KindSubset {
		t.Errorf("expected subset kind, got %s", g.Kind)
	}
	if g.Winner.Path != "/movie_full.mp4" {
		t.Errorf("expected containing file to win, got %s", g.Winner.Path)
	}
	ev, ok := g.Evidence.(SubsetEvidence)
	if !ok {
		t.Fatalf("expected SubsetEvidence, got %T", g.Evidence)
	}
	if ev.DiagonalStreakLength != 301 {
		t.Errorf("expected streak length 301, got %d", ev.DiagonalStreakLength)
	}
}

func TestGroupNoEdgesNoGroups(t *testing.T) {
	files := []*types.FileMeta{meta("/a.mp4", 100, time.Now()), meta("/b.mp4", 200, time.Now())}
	groups := BuildGroups(Input{Files: files}, config.KeepBestQuality)
	if len(groups) != 0 {
		t.Errorf("expected no groups without edges, got %d", len(groups))
	}
}

func TestGroupTransitiveComponent(t *testing.T) {
	now := time.Now()
	files := []*types.FileMeta{
		meta("/a.mp4", 100, now),
		meta("/b.mp4", 100, now),
		meta("/c.mp4", 100, now),
	}
	in := Input{
		Files: files,
		Edges: []Edge{
			NewExactEdge(0, 1, "hash1"),
			NewExactEdge(1, 2, "hash1"),
		},
	}
	groups := BuildGroups(in, config.KeepBestQuality)
	if len(groups) != 1 {
		t.Fatalf("expected 1 transitive group, got %d", len(groups))
	}
	if len(groups[0].Losers) != 2 {
		t.Errorf("expected 2 losers, got %d", len(groups[0].Losers))
	}
}

func TestGroupKeepOldestPolicy(t *testing.T) {
	older := time.Now().Add(-24 * time.Hour)
	newer := time.Now()
	files := []*types.FileMeta{
		meta("/new.mp4", 100, newer),
		meta("/old.mp4", 100, older),
	}
	in := Input{Files: files, Edges: []Edge{NewExactEdge(0, 1, "h")}}

	groups := BuildGroups(in, config.KeepOldest)
	if groups[0].Winner.Path != "/old.mp4" {
		t.Errorf("expected older file to win under keep_oldest, got %s", groups[0].Winner.Path)
	}
}

func TestGroupDeterministicOrdering(t *testing.T) {
	now := time.Now()
	files := []*types.FileMeta{
		meta("/z.mp4", 100, now),
		meta("/z2.mp4", 100, now),
		meta("/a.mp4", 100, now),
		meta("/a2.mp4", 100, now),
	}
	in := Input{
		Files: files,
		Edges: []Edge{
			NewExactEdge(0, 1, "hz"),
			NewExactEdge(2, 3, "ha"),
		},
	}
	groups := BuildGroups(in, config.KeepBestQuality)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Winner.Path != "/a.mp4" || groups[1].Winner.Path != "/z.mp4" {
		t.Errorf("expected groups sorted by winner path, got %s then %s", groups[0].Winner.Path, groups[1].Winner.Path)
	}
	if groups[0].ID != "g-0001" || groups[1].ID != "g-0002" {
		t.Errorf("expected sequential group ids, got %s, %s", groups[0].ID, groups[1].ID)
	}
}

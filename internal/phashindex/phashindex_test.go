package phashindex

import "testing"

func fp(hashes ...uint64) Fingerprint {
	frames := make([]FrameReference, len(hashes))
	for i, h := range hashes {
		frames[i] = FrameReference{FrameIndex: i, TimestampSec: float64(i), PHash: h}
	}
	return Fingerprint{Frames: frames}
}

func TestInsertAndQueryExactMatch(t *testing.T) {
	idx := New()
	idx.Insert("a.mp4", fp(0x1234567890abcdef))

	matches := idx.Query(0x1234567890abcdef, 0, "")
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	if matches[0].VideoPath != "a.mp4" {
		t.Errorf("VideoPath = %q, want a.mp4", matches[0].VideoPath)
	}
}

func TestQueryRespectsThreshold(t *testing.T) {
	idx := New()
	idx.Insert("a.mp4", fp(0x0))

	// Flip one bit: within threshold 1, outside threshold 0.
	near := uint64(1)
	if matches := idx.Query(near, 0, ""); len(matches) != 0 {
		t.Errorf("expected no match at threshold 0, got %d", len(matches))
	}
	if matches := idx.Query(near, 1, ""); len(matches) != 1 {
		t.Errorf("expected 1 match at threshold 1, got %d", len(matches))
	}
}

func TestQueryExcludesVideo(t *testing.T) {
	idx := New()
	idx.Insert("a.mp4", fp(0xdead))

	if matches := idx.Query(0xdead, 0, "a.mp4"); len(matches) != 0 {
		t.Errorf("expected excluded video to be filtered, got %d matches", len(matches))
	}
}

func TestQueryDeduplicatesAcrossSegments(t *testing.T) {
	idx := New()
	// A hash that collides with itself across all 4 segments should still
	// appear exactly once in the result.
	idx.Insert("a.mp4", fp(0xffffffffffffffff))

	matches := idx.Query(0xffffffffffffffff, 0, "")
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1 (deduplicated)", len(matches))
	}
}

func TestFindMatchingVideosOrdersByCountDescending(t *testing.T) {
	idx := New()
	idx.Insert("few.mp4", fp(0x1, 0x2))
	idx.Insert("many.mp4", fp(0x1, 0x2, 0x3, 0x4))

	query := fp(0x1, 0x2, 0x3, 0x4)
	matches := idx.FindMatchingVideos(query, "query.mp4", 0, 1)

	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].VideoPath != "many.mp4" || matches[0].MatchCount != 4 {
		t.Errorf("matches[0] = %+v, want many.mp4 with count 4", matches[0])
	}
	if matches[1].VideoPath != "few.mp4" || matches[1].MatchCount != 2 {
		t.Errorf("matches[1] = %+v, want few.mp4 with count 2", matches[1])
	}
}

func TestFindMatchingVideosFiltersByMinFrames(t *testing.T) {
	idx := New()
	idx.Insert("a.mp4", fp(0x1))

	query := fp(0x1)
	matches := idx.FindMatchingVideos(query, "", 0, 2)
	if len(matches) != 0 {
		t.Errorf("expected no matches below minMatchingFrames, got %d", len(matches))
	}
}

func TestFindMatchingVideosExcludesSelf(t *testing.T) {
	idx := New()
	idx.Insert("self.mp4", fp(0x1, 0x2))

	query := fp(0x1, 0x2)
	matches := idx.FindMatchingVideos(query, "self.mp4", 0, 1)
	if len(matches) != 0 {
		t.Errorf("expected self-matches excluded, got %d", len(matches))
	}
}

func TestSegmentKeysCoverAllBits(t *testing.T) {
	keys := segmentKeys(0x123456789abcdef0)
	var reconstructed uint64
	for i, k := range keys {
		shift := uint(16 * (3 - i))
		reconstructed |= uint64(k) << shift
	}
	if reconstructed != 0x123456789abcdef0 {
		t.Errorf("segments do not reconstruct original hash: got %x", reconstructed)
	}
}

// Package pipeline orchestrates the Q1-Q5 progressive filtration stages
// (size bucketing -> partial hash -> full hash -> metadata clustering ->
// perceptual-hash fingerprinting -> diagonal-streak overlap detection).
// A single Cache and EventStream are threaded by reference into every
// stage; there are no package-level singletons, and every fan-out step
// bounds its concurrency with a counting semaphore.
package pipeline

import (
	"context"

	"filmdupe/internal/cache"
	"filmdupe/internal/grouper"
	"filmdupe/internal/identity"
	"filmdupe/internal/types"
)

// VideoProber is the narrow interface the pipeline needs from
// internal/prober.Prober, satisfied directly by it. Tests inject a fake so
// unit tests never invoke a real ffprobe binary.
type VideoProber interface {
	Probe(ctx context.Context, filePath string) (cache.VideoMeta, error)
}

// FrameFingerprinter is the narrow interface the pipeline needs from
// internal/phash.Hasher. Tests inject a fake so unit tests never invoke a
// real ffmpeg binary.
type FrameFingerprinter interface {
	Fingerprint(ctx context.Context, filePath string, timestamps []float64) (cache.Fingerprint, error)
}

// fileState names where a file sits in the per-file state machine:
// scanned -> (partial-hashed) -> (full-hashed -> exact-matched) | (probed
// -> fingerprinted -> visually-matched) | unmatched | failed. Exactly one
// terminal state holds per file by the time Run returns.
type fileState string

const (
	stateScanned         fileState = "scanned"
	statePartialHashed   fileState = "partial_hashed"
	stateFullHashed      fileState = "full_hashed"
	stateExactMatched    fileState = "exact_matched"
	stateProbed          fileState = "probed"
	stateFingerprinted   fileState = "fingerprinted"
	stateVisuallyMatched fileState = "visually_matched"
	stateUnmatched       fileState = "unmatched"
	stateFailed          fileState = "failed"
)

// fileRecord is the pipeline's working state for one scanned file. It is
// never shared outside the owning Pipeline; stages only ever read/write
// their own record via index, so there is no concurrent-map-access risk
// despite the fan-out across goroutines (each goroutine owns a disjoint
// slice index).
type fileRecord struct {
	meta  *types.FileMeta
	key   identity.CacheKey
	state fileState

	partial *cache.PartialHash
	full    *cache.FullHash
	video   *cache.VideoMeta
	fp      *cache.Fingerprint

	excludedFromVisual bool // already exact-matched in Q2
}

// RunResult is everything Run produces: the duplicate groups (already
// passed through internal/grouper), the accumulated per-file failure log,
// and whether the run ended early via cooperative cancellation.
type RunResult struct {
	Groups      []grouper.Group
	Failures    []FailureRecord
	Interrupted bool
	ScanTimeSec float64
}

// FailureRecord is one per-file error accumulated during the run, destined
// for the report's failures section.
type FailureRecord struct {
	Path    string
	Kind    string
	Message string
}

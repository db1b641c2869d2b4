package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"filmdupe/internal/cache"
	"filmdupe/internal/config"
	"filmdupe/internal/grouper"
	"filmdupe/internal/identity"
	"filmdupe/internal/progress"
	"filmdupe/internal/types"
)

// Pipeline orchestrates the Q1-Q5 stages over a set of scanned files,
// owning the single append point into Cache and the single producer side
// of the EventStream.
//
// A Pipeline is single-use: construct with New, call Run once.
type Pipeline struct {
	cfg    config.Config
	cache  *cache.Cache
	events *progress.EventStream
	errCh  chan error

	prober        VideoProber
	fingerprinter FrameFingerprinter

	ioSem  types.Semaphore
	cpuSem types.Semaphore

	stop atomic.Bool

	mu       sync.Mutex
	failures []FailureRecord
}

// New builds a Pipeline. prober and fingerprinter are the narrow interfaces
// that wrap external-process invocation; production callers pass
// internal/prober.Prober and internal/phash.Hasher, tests pass fakes.
func New(cfg config.Config, c *cache.Cache, events *progress.EventStream, errCh chan error,
	prober VideoProber, fingerprinter FrameFingerprinter,
) *Pipeline {
	return &Pipeline{
		cfg:           cfg,
		cache:         c,
		events:        events,
		errCh:         errCh,
		prober:        prober,
		fingerprinter: fingerprinter,
		ioSem:         types.NewSemaphore(cfg.IOThreads),
		cpuSem:        types.NewSemaphore(cfg.CPUThreads),
	}
}

// Stop requests cooperative cancellation: in-flight work drains and Cache
// is flushed before Run returns with Interrupted=true. The CLI's own
// double-SIGINT-within-2s forced-exit path is handled independently by the
// caller, since by then Run has not necessarily returned.
func (p *Pipeline) Stop() {
	p.stop.Store(true)
}

// Stopped reports whether Stop has been called.
func (p *Pipeline) Stopped() bool { return p.stop.Load() }

// Run executes the full Q1-Q5 pipeline over files and returns the grouped,
// report-ready result.
func (p *Pipeline) Run(ctx context.Context, files []*types.FileMeta) RunResult {
	start := time.Now()

	records := make([]*fileRecord, len(files))
	for i, f := range files {
		records[i] = &fileRecord{meta: f, key: identity.FromFileMeta(f), state: stateScanned}
	}

	if len(records) == 0 {
		return RunResult{ScanTimeSec: time.Since(start).Seconds()}
	}

	order := p.bucketBySize(records)

	p.runQ2Partial(ctx, records, order)
	exactEdges, excludeFromVisual := p.runQ2Full(ctx, records)

	var edges []grouper.Edge
	edges = append(edges, exactEdges...)

	if !p.stop.Load() {
		candidates := p.candidateIndices(records, excludeFromVisual)
		p.runQ3Probe(ctx, records, candidates)
		clusters := p.clusterByMetadata(records, candidates)

		if !p.stop.Load() && len(clusters) > 0 {
			p.runQ4Fingerprint(ctx, records, clusters)
			visualEdges, subsetEdges := p.runQ5Match(records, clusters)
			edges = append(edges, visualEdges...)
			edges = append(edges, subsetEdges...)
		}
	}

	// Every file ends in exactly one terminal state; anything still mid-
	// machine (stop request, dropped cluster, never fingerprinted) is
	// unmatched.
	for _, r := range records {
		switch r.state {
		case stateExactMatched, stateVisuallyMatched, stateUnmatched, stateFailed:
		default:
			r.state = stateUnmatched
		}
	}

	videoMeta := make(map[int]*cache.VideoMeta, len(records))
	for i, r := range records {
		if r.video != nil {
			videoMeta[i] = r.video
		}
	}

	groups := grouper.BuildGroups(grouper.Input{
		Files:     toFileMetaSlab(records),
		VideoMeta: videoMeta,
		Edges:     edges,
	}, p.cfg.KeepPolicy)

	p.emit(progress.Event{Stage: progress.StageGroup, Status: progress.StatusFinished,
		Detail: fmt.Sprintf("%d duplicate groups formed", len(groups))})

	return RunResult{
		Groups:      groups,
		Failures:    p.snapshotFailures(),
		Interrupted: p.stop.Load(),
		ScanTimeSec: time.Since(start).Seconds(),
	}
}

func toFileMetaSlab(records []*fileRecord) []*types.FileMeta {
	out := make([]*types.FileMeta, len(records))
	for i, r := range records {
		out[i] = r.meta
	}
	return out
}

// candidateIndices returns every record index not already excluded by Q2
// full (exact match) and not otherwise failed.
func (p *Pipeline) candidateIndices(records []*fileRecord, excluded map[int]bool) []int {
	var out []int
	for i, r := range records {
		if excluded[i] || r.state == stateFailed {
			continue
		}
		out = append(out, i)
	}
	return out
}

// recordFailure appends to the per-file failure log and forwards a
// human-readable error to the shared error channel. The send never blocks;
// a slow drain drops the live message but the failure stays in the log.
func (p *Pipeline) recordFailure(path, kind string, err error) {
	p.mu.Lock()
	p.failures = append(p.failures, FailureRecord{Path: path, Kind: kind, Message: err.Error()})
	p.mu.Unlock()

	if p.errCh != nil {
		select {
		case p.errCh <- fmt.Errorf("%s: %s: %w", kind, path, err):
		default:
		}
	}
}

func (p *Pipeline) snapshotFailures() []FailureRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FailureRecord, len(p.failures))
	copy(out, p.failures)
	return out
}

func (p *Pipeline) emit(e progress.Event) {
	p.events.Emit(e)
}

// cacheStore runs a cache write and downgrades any failure to a warning:
// losing a memoized value costs a recompute next run, never the run itself.
func cacheStore(err error) {
	if err != nil {
		slog.Warn("cache store failed", "error", err)
	}
}

// runIOBound fans out fn over indices with concurrency bounded by ioSem,
// the same semaphore+WaitGroup fan-out the scanner uses, generalized to an
// arbitrary per-file callback. Stops dispatching new work once Stop() has
// been called; the stop flag is also polled after each semaphore acquire.
func (p *Pipeline) runIOBound(indices []int, fn func(idx int)) {
	runBounded(p.ioSem, indices, p.stop.Load, fn)
}

// runCPUBound is runIOBound's CPU-pool counterpart (Q4 pHash computation;
// Q5 sequence matching runs sequentially on the calling goroutine).
func (p *Pipeline) runCPUBound(indices []int, fn func(idx int)) {
	runBounded(p.cpuSem, indices, p.stop.Load, fn)
}

func runBounded(sem types.Semaphore, indices []int, stopped func() bool, fn func(idx int)) {
	var wg sync.WaitGroup
	for _, idx := range indices {
		if stopped() {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem.Acquire()
			defer sem.Release()
			if stopped() {
				return
			}
			fn(i)
		}(idx)
	}
	wg.Wait()
}

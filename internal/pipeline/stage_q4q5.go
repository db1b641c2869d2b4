package pipeline

import (
	"context"
	"fmt"

	"filmdupe/internal/config"
	"filmdupe/internal/grouper"
	"filmdupe/internal/phashindex"
	"filmdupe/internal/progress"
	"filmdupe/internal/sampler"
	"filmdupe/internal/sequence"
)

// minMatchingFrames is the PHashIndex candidate threshold: a video must
// share at least this many matching frame pairs with another to be
// considered for SequenceMatcher (Q5), cutting down the O(n^2) pair count
// before the more expensive diagonal-streak search.
const minMatchingFrames = 3

// runQ4Fingerprint computes (or loads from cache) the perceptual-hash
// fingerprint for every record in every Q3 cluster, using the CPU pool for
// the DCT work the external decoder's output feeds into. Frame extraction
// itself is IO-bound (an external process), but the whole Fingerprint call
// is billed to the CPU pool since decode-and-hash dominates its cost on
// typical hardware.
func (p *Pipeline) runQ4Fingerprint(ctx context.Context, records []*fileRecord, clusters [][]int) {
	p.emit(progress.Event{Stage: progress.StageQ4Fingerprint, Status: progress.StatusStarted})

	var all []int
	for _, c := range clusters {
		all = append(all, c...)
	}

	p.runCPUBound(all, func(i int) {
		r := records[i]

		if rec := p.cache.Load(r.key); rec.Fingerprint != nil {
			r.fp = rec.Fingerprint
			r.state = stateFingerprinted
			return
		}

		var duration float64
		if r.video != nil {
			duration = r.video.DurationSec
		}
		timestamps := sampler.Schedule(duration, p.cfg.Mode, p.cfg.PHashFramesMin, p.cfg.PHashFramesMax)
		if len(timestamps) == 0 {
			r.state = stateUnmatched
			return
		}

		fp, err := p.fingerprinter.Fingerprint(ctx, r.meta.Path, timestamps)
		if err != nil {
			r.state = stateFailed
			p.recordFailure(r.meta.Path, "FingerprintFailure", err)
			return
		}

		r.fp = &fp
		r.state = stateFingerprinted
		cacheStore(p.cache.StoreFingerprint(r.key, fp))
	})

	p.emit(progress.Event{Stage: progress.StageQ4Fingerprint, Status: progress.StatusFinished})
}

// runQ5Match builds a fresh PHashIndex from every fingerprinted record in
// clusters, finds candidate pairs via FindMatchingVideos, and runs
// SequenceMatcher on each distinct pair once. A qualifying OverlapMatch
// becomes a subset edge, or a visual edge when the overlap covers at least
// 95% of the longer video. In ModeFast the diagonal-streak search is skipped
// and pairs group on aggregate frame similarity alone, trading
// subset/overlap detection for speed.
func (p *Pipeline) runQ5Match(records []*fileRecord, clusters [][]int) (visual, subset []grouper.Edge) {
	p.emit(progress.Event{Stage: progress.StageQ5Overlap, Status: progress.StatusStarted})

	idx := phashindex.New()
	pathToIndex := make(map[string]int)
	for _, c := range clusters {
		for _, i := range c {
			r := records[i]
			if r.state != stateFingerprinted || r.fp == nil {
				continue
			}
			idx.Insert(r.meta.Path, toIndexFingerprint(r.meta.Path, *r.fp))
			pathToIndex[r.meta.Path] = i
		}
	}

	seen := make(map[pairKey]bool)
	for _, c := range clusters {
		for _, i := range c {
			r := records[i]
			if r.state != stateFingerprinted && r.state != stateVisuallyMatched {
				continue
			}
			matches := idx.FindMatchingVideos(toIndexFingerprint(r.meta.Path, *r.fp), r.meta.Path,
				p.cfg.PHashThreshold, minMatchingFrames)
			for _, m := range matches {
				j, ok := pathToIndex[m.VideoPath]
				if !ok {
					continue
				}
				key := newPairKey(i, j)
				if seen[key] {
					continue
				}
				seen[key] = true
				p.matchPair(records, i, j, &visual, &subset)
			}
		}
	}

	// Fingerprinted files with no surviving match reach their unmatched
	// terminal state here.
	for _, c := range clusters {
		for _, i := range c {
			if records[i].state == stateFingerprinted {
				records[i].state = stateUnmatched
			}
		}
	}

	p.emit(progress.Event{Stage: progress.StageQ5Overlap, Status: progress.StatusFinished,
		Detail: fmt.Sprintf("%d visual edges, %d subset edges", len(visual), len(subset))})

	return visual, subset
}

func (p *Pipeline) matchPair(records []*fileRecord, i, j int, visual, subset *[]grouper.Edge) {
	ri, rj := records[i], records[j]
	fpA := toIndexFingerprint(ri.meta.Path, *ri.fp)
	fpB := toIndexFingerprint(rj.meta.Path, *rj.fp)

	if p.cfg.Mode == config.ModeFast {
		// Subset detection is disabled in fast mode; a pair only groups when
		// most of the shorter fingerprint's frames have a perceptual match,
		// so a handful of coincidental matches (shared black or title
		// frames) never forms a group.
		avg, max, matched := hammingStats(fpA, fpB, p.cfg.PHashThreshold)
		shorter := len(fpA.Frames)
		if len(fpB.Frames) < shorter {
			shorter = len(fpB.Frames)
		}
		if matched < minMatchingFrames || matched*2 <= shorter {
			return
		}
		*visual = append(*visual, grouper.NewVisualEdge(i, j, avg, max, p.cfg.PHashThreshold, matched))
		ri.state, rj.state = stateVisuallyMatched, stateVisuallyMatched
		return
	}

	durA, durB := videoDuration(ri), videoDuration(rj)
	m, ok := sequence.Match(fpA, fpB, durA, durB, sequence.Options{
		HammingThreshold: p.cfg.PHashThreshold,
		MinOverlapRatio:  p.cfg.MinOverlapRatio,
	})
	if !ok {
		return
	}
	if m.Classification == sequence.FullDuplicate {
		// A wall-to-wall overlap is visual-duplicate evidence, not a
		// containment relationship; report it with aggregate Hamming stats.
		avg, max, matched := hammingStats(fpA, fpB, p.cfg.PHashThreshold)
		*visual = append(*visual, grouper.NewVisualEdge(i, j, avg, max, p.cfg.PHashThreshold, matched))
	} else {
		*subset = append(*subset, grouper.NewSubsetEdge(i, j, ri.meta.Path, rj.meta.Path, m))
	}
	ri.state, rj.state = stateVisuallyMatched, stateVisuallyMatched
}

func videoDuration(r *fileRecord) float64 {
	if r.video == nil {
		return 0
	}
	return r.video.DurationSec
}

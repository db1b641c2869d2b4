package pipeline

import (
	"context"
	"fmt"
	"sort"

	"filmdupe/internal/config"
	"filmdupe/internal/progress"
)

// runQ3Probe probes container/stream metadata for every candidate (any
// record not already excluded as an exact duplicate), using the IO pool. A
// probe failure marks the file failed and drops it from further visual
// stages rather than aborting the run.
func (p *Pipeline) runQ3Probe(ctx context.Context, records []*fileRecord, candidates []int) {
	p.emit(progress.Event{Stage: progress.StageQ3Cluster, Status: progress.StatusStarted})

	p.runIOBound(candidates, func(i int) {
		r := records[i]

		if rec := p.cache.Load(r.key); rec.VideoMeta != nil {
			r.video = rec.VideoMeta
			r.state = stateProbed
			return
		}

		meta, err := p.prober.Probe(ctx, r.meta.Path)
		if err != nil {
			r.state = stateFailed
			p.recordFailure(r.meta.Path, "ProbeFailure", err)
			return
		}

		r.video = &meta
		r.state = stateProbed
		cacheStore(p.cache.StoreVideoMeta(r.key, meta))
	})
}

// clusterKey groups candidates that could plausibly share visual content:
// same resolution, plus codec/container when the config tightens on them.
type clusterKey struct {
	width, height    int
	codec, container string
}

// clusterByMetadata forms the Q4 input clusters from probed candidates.
// Files sharing a clusterKey always cluster together when subset detection
// is active, since a clip and the video containing it have arbitrarily
// different durations. In fast mode, where only whole-video visual
// duplicates are sought, each key's files are additionally split by a
// duration sweep: adjacent files (in duration order) union when within
// DurationToleranceSec, so a chain of near-matches can span a wider total
// range than the tolerance alone. Files with a degenerate duration or no
// probe result never cluster. Clusters of size 1 are dropped; they can
// never produce a match edge.
func (p *Pipeline) clusterByMetadata(records []*fileRecord, candidates []int) [][]int {
	byKey := make(map[clusterKey][]int)
	var keys []clusterKey
	for _, i := range candidates {
		r := records[i]
		if r.state != stateProbed || r.video == nil || r.video.DurationSec <= 0 {
			if r.state != stateFailed {
				r.state = stateUnmatched
			}
			continue
		}
		k := clusterKey{width: r.video.Width, height: r.video.Height}
		if p.cfg.SameCodec {
			k.codec = r.video.Codec
		}
		if p.cfg.SameContainer {
			k.container = r.video.Container
		}
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], i)
	}

	var out [][]int
	for _, k := range keys {
		members := byKey[k]
		if len(members) < 2 {
			continue
		}
		sort.Ints(members)
		if p.cfg.Mode == config.ModeFast {
			out = append(out, p.splitByDuration(records, members)...)
		} else {
			out = append(out, members)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })

	p.emit(progress.Event{Stage: progress.StageQ3Cluster, Status: progress.StatusFinished,
		Detail: fmt.Sprintf("%d metadata clusters", len(out))})

	return out
}

// splitByDuration partitions members (already sharing a clusterKey) into
// runs whose adjacent durations fall within DurationToleranceSec of each
// other, keeping only runs of 2+.
func (p *Pipeline) splitByDuration(records []*fileRecord, members []int) [][]int {
	sorted := make([]int, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(a, b int) bool {
		da, db := records[sorted[a]].video.DurationSec, records[sorted[b]].video.DurationSec
		if da != db {
			return da < db
		}
		return sorted[a] < sorted[b]
	})

	tol := p.cfg.DurationToleranceSec
	var out [][]int
	run := []int{sorted[0]}
	for k := 1; k < len(sorted); k++ {
		prev, cur := records[sorted[k-1]].video, records[sorted[k]].video
		if cur.DurationSec-prev.DurationSec <= tol {
			run = append(run, sorted[k])
			continue
		}
		if len(run) >= 2 {
			sort.Ints(run)
			out = append(out, run)
		}
		run = []int{sorted[k]}
	}
	if len(run) >= 2 {
		sort.Ints(run)
		out = append(out, run)
	}
	return out
}

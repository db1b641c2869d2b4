package pipeline

import (
	"context"
	"fmt"
	"sort"

	"filmdupe/internal/cache"
	"filmdupe/internal/grouper"
	"filmdupe/internal/hasher"
	"filmdupe/internal/progress"
)

// partialHashKey groups records by their three sample digests: equal
// head/tail/mid digests are the signal that promotes a file into the
// Q2 full-hash pass.
type partialHashKey struct {
	head, tail, mid string
}

// runQ2Partial computes (or loads from cache) the partial hash for every
// record in order, using the IO pool. order is stage_q1's prioritized
// traversal; every index in it gets a partial hash regardless of bucket
// membership, since Q1 is a hint, not a filter.
func (p *Pipeline) runQ2Partial(ctx context.Context, records []*fileRecord, order []int) {
	p.emit(progress.Event{Stage: progress.StageQ2Partial, Status: progress.StatusStarted})

	p.runIOBound(order, func(i int) {
		r := records[i]

		if rec := p.cache.Load(r.key); rec.PartialHash != nil {
			r.partial = rec.PartialHash
			r.state = statePartialHashed
			return
		}

		ph, err := hasher.Partial(r.meta.Path, r.meta.Size, cache.AlgoXXHash)
		if err != nil {
			r.state = stateFailed
			p.recordFailure(r.meta.Path, "PartialHashFailure", err)
			return
		}

		r.partial = &ph
		r.state = statePartialHashed
		cacheStore(p.cache.StorePartialHash(r.key, ph))
	})

	p.emit(progress.Event{Stage: progress.StageQ2Partial, Status: progress.StatusFinished})
}

// runQ2Full groups partial-hash survivors by their sample digests, then
// within each group of 2+ computes (or loads) the full-file hash and emits
// an exact edge for every matching pair. Returns the exact edges and the set
// of record indices that are exact-matched and therefore excluded from the
// visual stages; exact duplicates skip Q3-Q5.
func (p *Pipeline) runQ2Full(ctx context.Context, records []*fileRecord) (edges []grouper.Edge, excluded map[int]bool) {
	p.emit(progress.Event{Stage: progress.StageQ2Full, Status: progress.StatusStarted})
	excluded = make(map[int]bool)

	groups := make(map[partialHashKey][]int)
	for i, r := range records {
		if r.state != statePartialHashed || r.partial == nil {
			continue
		}
		k := partialHashKey{head: r.partial.Head, tail: r.partial.Tail, mid: r.partial.Mid}
		groups[k] = append(groups[k], i)
	}

	var candidates []int
	for _, idxs := range groups {
		if len(idxs) >= 2 {
			candidates = append(candidates, idxs...)
		}
	}
	sort.Ints(candidates)

	p.runIOBound(candidates, func(i int) {
		r := records[i]

		if rec := p.cache.Load(r.key); rec.FullHash != nil {
			r.full = rec.FullHash
			r.state = stateFullHashed
			return
		}

		fh, err := hasher.Full(r.meta.Path, cache.AlgoSHA256)
		if err != nil {
			r.state = stateFailed
			p.recordFailure(r.meta.Path, "FullHashFailure", err)
			return
		}

		r.full = &fh
		r.state = stateFullHashed
		cacheStore(p.cache.StoreFullHash(r.key, fh))
	})

	digestGroups := make(map[string][]int)
	for _, i := range candidates {
		r := records[i]
		if r.state != stateFullHashed || r.full == nil {
			continue
		}
		digestGroups[r.full.Digest] = append(digestGroups[r.full.Digest], i)
	}

	for digest, idxs := range digestGroups {
		if len(idxs) < 2 {
			continue
		}
		sort.Ints(idxs)
		for _, i := range idxs {
			records[i].state = stateExactMatched
			records[i].excludedFromVisual = true
			excluded[i] = true
		}
		for j := 1; j < len(idxs); j++ {
			edges = append(edges, grouper.NewExactEdge(idxs[0], idxs[j], digest))
		}
	}

	p.emit(progress.Event{Stage: progress.StageQ2Full, Status: progress.StatusFinished,
		Detail: fmt.Sprintf("%d exact-duplicate edges", len(edges))})

	return edges, excluded
}

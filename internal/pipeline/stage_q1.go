package pipeline

import "filmdupe/internal/progress"

// bucketBySize implements Q1: grouping files by exact size. This is an
// optimization hint only. Every record's index is returned in
// prioritizedOrder regardless of bucket membership, so no file is ever
// eliminated here: re-encodes and subsets have unrelated sizes and must
// still reach the visual stages. Records in a bucket with 2+ members are
// processed first in Q2, since they are the files most likely to share a
// partial/full hash.
func (p *Pipeline) bucketBySize(records []*fileRecord) (prioritizedOrder []int) {
	buckets := make(map[int64][]int)
	for i, r := range records {
		buckets[r.meta.Size] = append(buckets[r.meta.Size], i)
	}

	var prioritized, rest []int
	for _, idxs := range buckets {
		if len(idxs) >= 2 {
			prioritized = append(prioritized, idxs...)
		} else {
			rest = append(rest, idxs...)
		}
	}

	p.emit(progress.Event{Stage: progress.StageQ1Bucket, Status: progress.StatusFinished,
		Detail: "size buckets computed (hint only, no files eliminated)"})

	return append(prioritized, rest...)
}

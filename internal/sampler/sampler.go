// Package sampler computes adaptive timestamp schedules for frame
// extraction, choosing a stride and a frame-count range from a video's
// duration and the configured mode, the way the pipeline's other duration-
// driven components (duration-tolerance clustering, subset overlap) key off
// VideoMeta.DurationSec.
package sampler

import (
	"filmdupe/internal/config"
)

// band is one row of the adaptive schedule table: a duration upper bound
// paired with a mode's stride and frame-count bounds.
type band struct {
	maxDuration float64 // seconds; the last band's bound is ignored (catch-all)
	strideSec   float64
	minFrames   int
	maxFrames   int
}

// modeSchedule holds the three duration bands for a single mode, ordered by
// increasing maxDuration with the final entry acting as the >60min catch-all.
type modeSchedule [3]band

var schedules = map[config.Mode]modeSchedule{
	config.ModeFast: {
		{maxDuration: 5 * 60, strideSec: 10, minFrames: 10, maxFrames: 100},
		{maxDuration: 60 * 60, strideSec: 20, minFrames: 20, maxFrames: 200},
		{maxDuration: 0, strideSec: 30, minFrames: 30, maxFrames: 300},
	},
	config.ModeBalanced: {
		{maxDuration: 5 * 60, strideSec: 1, minFrames: 30, maxFrames: 500},
		{maxDuration: 60 * 60, strideSec: 2, minFrames: 50, maxFrames: 1000},
		{maxDuration: 0, strideSec: 4, minFrames: 50, maxFrames: 1000},
	},
	config.ModeThorough: {
		{maxDuration: 5 * 60, strideSec: 0.5, minFrames: 50, maxFrames: 1000},
		{maxDuration: 60 * 60, strideSec: 1, minFrames: 100, maxFrames: 2000},
		{maxDuration: 0, strideSec: 2, minFrames: 100, maxFrames: 3000},
	},
}

// Schedule returns the ordered, evenly-distributed timestamps (in seconds)
// at which frames should be extracted from a video of the given duration.
// framesMin and framesMax, if non-zero, override the mode's table bounds
// (config's per-video phash_frames override). Degenerate durations (<= 0)
// yield an empty schedule.
func Schedule(durationSec float64, mode config.Mode, framesMin, framesMax int) []float64 {
	if durationSec <= 0 {
		return nil
	}

	b := bandFor(mode, durationSec)

	minFrames, maxFrames := b.minFrames, b.maxFrames
	if framesMin > 0 {
		minFrames = framesMin
	}
	if framesMax > 0 {
		maxFrames = framesMax
	}
	if maxFrames < minFrames {
		maxFrames = minFrames
	}

	count := int(durationSec / b.strideSec)
	if count < minFrames {
		count = minFrames
	}
	if count > maxFrames {
		count = maxFrames
	}

	return evenlySpaced(durationSec, count)
}

func bandFor(mode config.Mode, durationSec float64) band {
	s, ok := schedules[mode]
	if !ok {
		s = schedules[config.ModeBalanced]
	}
	for _, b := range s[:len(s)-1] {
		if durationSec <= b.maxDuration {
			return b
		}
	}
	return s[len(s)-1]
}

// evenlySpaced returns count timestamps evenly distributed across the open
// interval (0, durationSec), never touching either endpoint.
func evenlySpaced(durationSec float64, count int) []float64 {
	if count <= 0 {
		return nil
	}
	out := make([]float64, count)
	step := durationSec / float64(count+1)
	for i := range out {
		out[i] = step * float64(i+1)
	}
	return out
}

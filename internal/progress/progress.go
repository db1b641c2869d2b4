package progress

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// redrawInterval throttles spinner redraws so high-rate stage events do not
// dominate terminal IO.
const redrawInterval = 50 * time.Millisecond

// Bar renders scan progress on stderr as a spinner with a live description.
// Stage durations in this pipeline are unknowable up front (they depend on
// cache hit rates and external decoder speed), so there is no determinate
// mode. A disabled Bar is a no-op on every method, so callers never branch
// on whether progress display is wanted.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a progress spinner. With enabled=false every method is a no-op.
func New(enabled bool) *Bar {
	if !enabled {
		return &Bar{}
	}
	return &Bar{bar: progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(redrawInterval),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(false),
	)}
}

// Describe replaces the spinner's description line.
func (b *Bar) Describe(desc string) {
	if b.bar != nil {
		b.bar.Describe(desc)
	}
}

// Follow renders each pipeline stage event as the spinner description until
// the stream closes, so the CLI sees the run through the same event
// vocabulary an external dashboard would. Run it on its own goroutine
// alongside the pipeline.
func (b *Bar) Follow(events <-chan Event) {
	for e := range events {
		desc := fmt.Sprintf("%s: %s", e.Stage, e.Status)
		if e.Detail != "" {
			desc = fmt.Sprintf("%s: %s (%s)", e.Stage, e.Status, e.Detail)
		}
		b.Describe(desc)
	}
}

// Finish clears the spinner and prints a final summary line.
func (b *Bar) Finish(summary string) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr, "✔ "+summary)
	}
}

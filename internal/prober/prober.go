// Package prober extracts container and stream metadata from video files by
// shelling out to ffprobe.
package prober

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"filmdupe/internal/cache"
)

// timeout bounds a single ffprobe invocation; a hung or malformed file must
// not stall the pipeline indefinitely.
const timeout = 30 * time.Second

// ErrTimeout is returned when ffprobe does not complete within timeout.
var ErrTimeout = errors.New("prober: ffprobe timed out")

// rawStream mirrors the subset of ffprobe's per-stream JSON fields this
// package requests. Only the first video stream is selected, so every
// returned stream entry is video.
type rawStream struct {
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	BitRate    string `json:"bit_rate"`
}

type rawFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type rawResult struct {
	Streams []rawStream `json:"streams"`
	Format  rawFormat   `json:"format"`
}

// Prober runs ffprobe against a file path, returning VideoMeta suitable for
// caching. Use New() to confirm ffprobe is available before running a batch.
type Prober struct {
	binary string
}

// New locates ffprobe on PATH. Returns an error if it cannot be found, which
// the caller should treat as ResourceExhaustion (fatal at startup).
func New() (*Prober, error) {
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &Prober{binary: path}, nil
}

// Probe runs ffprobe on filePath and returns the first video stream's
// metadata merged with container-level format fields.
func (p *Prober) Probe(ctx context.Context, filePath string) (cache.VideoMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // filePath is the file under inspection, not a shell string
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,codec_name,r_frame_rate,bit_rate",
		"-show_entries", "format=duration,format_name",
		"-of", "json",
		filePath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return cache.VideoMeta{}, fmt.Errorf("%w: %s after %v", ErrTimeout, filePath, timeout)
		}
		return cache.VideoMeta{}, fmt.Errorf("ffprobe %s: %s: %w", filePath, stderr.String(), err)
	}

	var result rawResult
	if err := json.Unmarshal(output, &result); err != nil {
		return cache.VideoMeta{}, fmt.Errorf("ffprobe %s: invalid JSON: %w", filePath, err)
	}

	return toVideoMeta(result), nil
}

func toVideoMeta(r rawResult) cache.VideoMeta {
	meta := cache.VideoMeta{
		Container:   r.Format.FormatName,
		DurationSec: parseFloat(r.Format.Duration),
	}

	if len(r.Streams) > 0 {
		s := r.Streams[0]
		meta.Width = s.Width
		meta.Height = s.Height
		meta.Codec = s.CodecName
		meta.FPS = parseFrameRate(s.RFrameRate)
		meta.BitrateKbps = parseBitrateKbps(s.BitRate)
	}

	return meta
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseBitrateKbps(s string) int64 {
	bps, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return bps / 1000
}

// parseFrameRate converts ffprobe's "num/den" rational frame rate string
// (e.g. "30000/1001") into a float64 fps value.
func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 0
	}
	return num / den
}

// Package phash extracts video frames at sampled timestamps via ffmpeg and
// computes a 64-bit perceptual hash per frame.
package phash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"time"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/bmp"

	"filmdupe/internal/cache"
)

// frameTimeout bounds a single frame extraction; a stuck decode must not
// stall the whole fingerprinting pass.
const frameTimeout = 15 * time.Second

// Per-file extraction budget, proportional to the number of scheduled
// frames.
const (
	fileTimeoutBase     = 5 * time.Second
	fileTimeoutPerFrame = 500 * time.Millisecond
)

// minSuccessRatio is the fraction of requested frames that must decode
// successfully for a fingerprint to be considered usable.
const minSuccessRatio = 0.5

// ErrExtractFailure indicates too many frames failed to extract for the
// resulting fingerprint to be trustworthy.
var ErrExtractFailure = errors.New("phash: too many frame extractions failed")

// Hasher extracts frames via an external decoder (ffmpeg) and computes their
// perceptual hashes.
type Hasher struct {
	binary string
}

// New locates ffmpeg on PATH.
func New() (*Hasher, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return &Hasher{binary: path}, nil
}

// Fingerprint extracts a frame at each of timestamps (seconds) from
// filePath and computes its perceptual hash. Frames that fail to extract or
// decode are skipped; if more than (1 - minSuccessRatio) of the requested
// frames fail, ErrExtractFailure is returned.
func (h *Hasher) Fingerprint(ctx context.Context, filePath string, timestamps []float64) (cache.Fingerprint, error) {
	fp := cache.Fingerprint{Frames: make([]cache.FrameHash, 0, len(timestamps))}

	budget := fileTimeoutBase + time.Duration(len(timestamps))*fileTimeoutPerFrame
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for i, ts := range timestamps {
		if ctx.Err() != nil {
			break
		}
		img, err := h.extractFrame(ctx, filePath, ts)
		if err != nil {
			continue
		}
		hash, err := goimagehash.PerceptionHash(img)
		if err != nil {
			continue
		}
		fp.Frames = append(fp.Frames, cache.FrameHash{
			TimestampSec: ts,
			Index:        i,
			PHash:        hash.GetHash(),
		})
	}

	if len(timestamps) > 0 && float64(len(fp.Frames))/float64(len(timestamps)) < minSuccessRatio {
		return fp, fmt.Errorf("%w: %s (%d/%d frames)", ErrExtractFailure, filePath, len(fp.Frames), len(timestamps))
	}

	return fp, nil
}

func (h *Hasher) extractFrame(ctx context.Context, filePath string, timestampSec float64) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	//nolint:gosec // filePath is the file under inspection, not a shell string
	cmd := exec.CommandContext(ctx, h.binary,
		"-ss", fmt.Sprintf("%.3f", timestampSec),
		"-i", filePath,
		"-vframes", "1",
		"-f", "bmp",
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s@%.3fs: %s: %w", filePath, timestampSec, stderr.String(), err)
	}

	img, err := bmp.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode bmp %s@%.3fs: %w", filePath, timestampSec, err)
	}
	return img, nil
}

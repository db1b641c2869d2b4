package phash

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"golang.org/x/image/bmp"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg: it writes a
// fixed BMP image to stdout regardless of arguments, so extractFrame can be
// exercised without a real decoder.
func fakeFFmpeg(t *testing.T, fail bool) *Hasher {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script requires a POSIX shell")
	}

	var img bytes.Buffer
	m := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			m.Set(x, y, color.Gray{uint8((x + y) * 16)})
		}
	}
	if err := bmp.Encode(&img, m); err != nil {
		t.Fatal(err)
	}

	bmpPath := filepath.Join(t.TempDir(), "frame.bmp")
	if err := os.WriteFile(bmpPath, img.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\ncat '" + bmpPath + "'\n"
	if fail {
		script = "#!/bin/sh\necho fail >&2; exit 1\n"
	}
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return &Hasher{binary: scriptPath}
}

func TestFingerprintSuccessfulFrames(t *testing.T) {
	h := fakeFFmpeg(t, false)
	fp, err := h.Fingerprint(context.Background(), "irrelevant.mp4", []float64{1, 2, 3})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if len(fp.Frames) != 3 {
		t.Fatalf("len(Frames) = %d, want 3", len(fp.Frames))
	}
	for i, f := range fp.Frames {
		if f.Index != i {
			t.Errorf("Frames[%d].Index = %d, want %d", i, f.Index, i)
		}
	}
}

func TestFingerprintEmptyTimestamps(t *testing.T) {
	h := fakeFFmpeg(t, false)
	fp, err := h.Fingerprint(context.Background(), "irrelevant.mp4", nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if len(fp.Frames) != 0 {
		t.Errorf("expected no frames for empty schedule, got %d", len(fp.Frames))
	}
}

func TestFingerprintExtractFailureThreshold(t *testing.T) {
	h := fakeFFmpeg(t, true)
	_, err := h.Fingerprint(context.Background(), "irrelevant.mp4", []float64{1, 2, 3, 4})
	if err == nil {
		t.Fatal("expected ErrExtractFailure when all frames fail")
	}
}

func TestNewMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := New(); err == nil {
		t.Error("expected error when ffmpeg is not on PATH")
	}
}

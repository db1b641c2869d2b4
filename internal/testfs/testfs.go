// Package testfs builds synthetic video corpora for integration tests.
//
// Tests describe files as sequences of pattern-filled chunks; equal chunk
// sequences produce byte-identical files, and chunk boundaries can be
// aligned with the hasher's head/tail/mid sample windows to construct
// partial-hash collisions without shipping real video content.
//
//	corpus := testfs.Corpus{
//	    Files: []testfs.File{
//	        {Name: "a.mp4", Chunks: []testfs.Chunk{{Pattern: 'A', Size: "4MiB"}}},
//	        {Name: "b.mp4", Chunks: []testfs.Chunk{{Pattern: 'A', Size: "4MiB"}}},
//	    },
//	}
//	metas := corpus.Sow(t, t.TempDir())
package testfs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dustin/go-humanize"

	"filmdupe/internal/types"
)

// Corpus describes a set of files to sow into a test directory.
type Corpus struct {
	Files []File
}

// File defines one regular file built from pattern-filled chunks. Name is
// relative to the sow root; parent directories are created automatically.
type File struct {
	Name   string
	Chunks []Chunk

	// ModTime, if non-zero, is applied after the content is written so
	// tests can exercise mtime-sensitive winner selection and cache keys.
	ModTime time.Time
}

// Chunk defines a region of file content filled with a pattern byte.
// Size uses IEC units ("1KiB", "4MiB") parsed via go-humanize, so chunk
// boundaries align precisely with the hasher's sample windows.
type Chunk struct {
	Pattern byte
	Size    string
}

// TotalSize sums the file's chunk sizes in bytes.
func (f File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// Sow writes every file under root and returns their scan-time metadata in
// declaration order, failing the test on any error.
func (c Corpus) Sow(t *testing.T, root string) []*types.FileMeta {
	t.Helper()

	metas := make([]*types.FileMeta, 0, len(c.Files))
	for _, f := range c.Files {
		path := filepath.Join(root, f.Name)
		if err := writeChunkedFile(path, f.Chunks); err != nil {
			t.Fatalf("sow %s: %v", f.Name, err)
		}
		if !f.ModTime.IsZero() {
			if err := os.Chtimes(path, f.ModTime, f.ModTime); err != nil {
				t.Fatalf("chtimes %s: %v", f.Name, err)
			}
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", f.Name, err)
		}
		metas = append(metas, &types.FileMeta{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return metas
}

// writeChunkedFile streams pattern-filled chunks directly to disk, bounding
// the in-memory buffer so multi-MiB fixtures stay cheap.
func writeChunkedFile(path string, chunks []Chunk) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, c := range chunks {
		if err := writeChunk(f, c); err != nil {
			return err
		}
	}
	return nil
}

func writeChunk(f *os.File, c Chunk) error {
	const maxBufSize = 1 << 20

	size, err := humanize.ParseBytes(c.Size)
	if err != nil {
		return err
	}

	bufSize := int(size)
	if bufSize > maxBufSize {
		bufSize = maxBufSize
	}
	buf := bytes.Repeat([]byte{c.Pattern}, bufSize)

	remaining := int64(size)
	for remaining > 0 {
		toWrite := int64(len(buf))
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			return err
		}
		remaining -= toWrite
	}
	return nil
}

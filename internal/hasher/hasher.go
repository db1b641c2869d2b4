// Package hasher computes partial (head/tail/mid) and full-file content
// hashes. The partial hash samples three fixed windows so most
// non-duplicates are told apart without reading whole files.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"filmdupe/internal/cache"
)

const (
	// sampleSize is the amount read from each of head/tail/mid for the partial hash.
	sampleSize = 4 << 20 // 4 MiB
	// midThreshold is the minimum file size before a mid sample is taken.
	midThreshold = 12 << 20 // 12 MiB
	// blockSize is the read buffer size for streaming hashes.
	blockSize = 1 << 20 // 1 MiB
)

// Partial computes the head/tail/mid sample hash for path. mid is omitted
// (empty string, zero size) for files at or below midThreshold.
func Partial(path string, size int64, algo cache.HashAlgo) (cache.PartialHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return cache.PartialHash{}, err
	}
	defer func() { _ = f.Close() }()

	headSize := min(sampleSize, size)
	head, err := hashAt(f, 0, headSize, algo)
	if err != nil {
		return cache.PartialHash{}, fmt.Errorf("head: %w", err)
	}

	tailSize := min(sampleSize, size)
	tailStart := max(0, size-tailSize)
	tail, err := hashAt(f, tailStart, tailSize, algo)
	if err != nil {
		return cache.PartialHash{}, fmt.Errorf("tail: %w", err)
	}

	result := cache.PartialHash{
		Algo: algo, Head: head, Tail: tail,
		HeadSize: headSize, TailSize: tailSize,
	}

	if size > midThreshold {
		midSize := int64(sampleSize)
		midStart := (size - midSize) / 2
		mid, err := hashAt(f, midStart, midSize, algo)
		if err != nil {
			return cache.PartialHash{}, fmt.Errorf("mid: %w", err)
		}
		result.Mid = mid
		result.MidSize = midSize
	}

	return result, nil
}

// Full computes the whole-file content hash, the exact-duplicate proof.
func Full(path string, algo cache.HashAlgo) (cache.FullHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return cache.FullHash{}, err
	}
	defer func() { _ = f.Close() }()

	digest, err := hashAt(f, 0, -1, algo)
	if err != nil {
		return cache.FullHash{}, err
	}
	return cache.FullHash{Algo: algo, Digest: digest}, nil
}

// hashAt hashes size bytes of f starting at start using the configured
// algorithm. size < 0 reads to EOF.
func hashAt(f *os.File, start, size int64, algo cache.HashAlgo) (string, error) {
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return "", err
	}

	var r io.Reader = f
	if size >= 0 {
		r = io.LimitReader(f, size)
	}

	buf := make([]byte, blockSize)

	switch algo {
	case cache.AlgoXXHash:
		h := xxhash.New()
		if _, err := io.CopyBuffer(h, r, buf); err != nil {
			return "", err
		}
		return fmt.Sprintf("%016x", h.Sum64()), nil
	case cache.AlgoSHA256:
		h := sha256.New()
		if _, err := io.CopyBuffer(h, r, buf); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

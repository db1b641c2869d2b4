// Package identity derives stable per-file identity tuples from filesystem
// metadata, used to key cached per-file computations across runs.
package identity

import (
	"fmt"
	"math"
	"time"

	"filmdupe/internal/types"
)

// mtimeTolerance is the slack allowed when reconciling a CacheKey against a
// previously observed FileMeta: filesystems and copy tools routinely lose
// sub-second mtime precision, so an exact match would defeat the cache on
// every run for files that were merely re-stat'd.
const mtimeTolerance = 1 * time.Second

// CacheKey is the stable identity tuple used to memoize per-file computations
// in the cache. On POSIX systems it is (dev_id, inode, size, mtime); systems
// without usable inode semantics fall back to (canonical_path, size, mtime).
type CacheKey struct {
	Dev     uint64
	Ino     uint64
	Size    int64
	ModTime time.Time
	Path    string // only populated (and only meaningful) for the path-based fallback
}

// FromFileMeta derives the CacheKey for a file discovered by the scanner.
// Dev/Ino come from the platform stat call; a zero Dev+Ino pair (no inode
// semantics available) falls back to a path-keyed identity.
func FromFileMeta(meta *types.FileMeta) CacheKey {
	if meta.Dev == 0 && meta.Ino == 0 {
		return CacheKey{Size: meta.Size, ModTime: meta.ModTime, Path: meta.Path}
	}
	return CacheKey{Dev: meta.Dev, Ino: meta.Ino, Size: meta.Size, ModTime: meta.ModTime}
}

// isFallback reports whether k was derived without inode semantics.
func (k CacheKey) isFallback() bool {
	return k.Dev == 0 && k.Ino == 0
}

// Matches reports whether k identifies the same file as other, allowing the
// mtime tolerance both ways. Size must match exactly; for inode-backed keys
// dev+ino must match exactly; for fallback keys the path must match exactly.
func (k CacheKey) Matches(other CacheKey) bool {
	if k.Size != other.Size {
		return false
	}
	if k.isFallback() != other.isFallback() {
		return false
	}
	if k.isFallback() {
		if k.Path != other.Path {
			return false
		}
	} else if k.Dev != other.Dev || k.Ino != other.Ino {
		return false
	}
	delta := k.ModTime.Sub(other.ModTime)
	return math.Abs(delta.Seconds()) <= mtimeTolerance.Seconds()
}

// Bucket returns a stable string suitable for use as a map/bbolt row key.
// mtime is truncated to whole seconds before encoding, so sub-second jitter
// within the same second maps to one bucket; two keys within the mtime
// tolerance that straddle a second boundary land in adjacent buckets.
func (k CacheKey) Bucket() string {
	truncated := k.ModTime.Truncate(time.Second).Unix()
	if k.isFallback() {
		return fmt.Sprintf("path:%s:%d:%d", k.Path, k.Size, truncated)
	}
	return fmt.Sprintf("ino:%d:%d:%d:%d", k.Dev, k.Ino, k.Size, truncated)
}

func (k CacheKey) String() string {
	return k.Bucket()
}

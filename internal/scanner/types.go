package scanner

import (
	"os"
	"syscall"

	"filmdupe/internal/types"
)

// newFileMeta creates FileMeta from os.FileInfo and path.
func newFileMeta(path string, info os.FileInfo) *types.FileMeta {
	stat := info.Sys().(*syscall.Stat_t)
	return &types.FileMeta{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Dev:     uint64(stat.Dev), //nolint:unconvert // platform-dependent type
		Ino:     stat.Ino,
	}
}

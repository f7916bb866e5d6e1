//go:build !windows

package fsutil

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/xerrors"
)

type SizeInfo struct {
	OnDisk  int64
	Logical int64
}

// FileSize returns bytes used by a file or directory on disk, and the sum of
// the logical file sizes.
// NOTE: sealed files are preallocated, so OnDisk is what matters for capacity
func FileSize(path string) (SizeInfo, error) {
	start := time.Now()

	var out SizeInfo
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return xerrors.New("FileInfo.Sys of wrong type")
		}

		// NOTE: stat.Blocks is in 512B blocks, NOT in stat.Blksize
		out.OnDisk += int64(stat.Blocks) * 512 // nolint NOTE: int64 cast is needed on osx
		out.Logical += info.Size()
		return nil
	})

	if took := time.Since(start); took >= 3*time.Second {
		log.Warnw("very slow file size check", "took", took, "path", path)
	}

	if err != nil {
		if os.IsNotExist(err) {
			return SizeInfo{}, os.ErrNotExist
		}
		return SizeInfo{}, xerrors.Errorf("filepath.Walk err: %w", err)
	}

	return out, nil
}

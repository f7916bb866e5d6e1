package fsutil

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/detailyang/go-fallocate"

	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

const writeBufSize = 1 << 20

// WriteFile writes size bytes produced by fill to path through a buffered
// writer. Data is flushed and fsynced before returning so that later phases
// can rely on it. The file is written under a temporary name and renamed into
// place, so an interrupted write never leaves a partial file at path.
func WriteFile(path string, size int64, fill func(w io.Writer) error) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return storiface.NewIoError("create", tmp, err)
	}

	if err := Allocate(f, size); err != nil {
		_ = f.Close()
		return err
	}

	bw := bufio.NewWriterSize(f, writeBufSize)
	cw := &countingWriter{w: bw}
	if err := fill(cw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}

	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return storiface.NewIoError("flush", tmp, err)
	}
	if cw.n != size {
		_ = f.Close()
		_ = os.Remove(tmp)
		return storiface.NewIoError("write", tmp, io.ErrShortWrite)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return storiface.NewIoError("fsync", tmp, err)
	}
	if err := f.Close(); err != nil {
		return storiface.NewIoError("close", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return storiface.NewIoError("rename", path, err)
	}
	return syncDir(filepath.Dir(path))
}

// WriteBytes is WriteFile for data already in memory.
func WriteBytes(path string, data []byte) error {
	return WriteFile(path, int64(len(data)), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Allocate reserves size bytes for f.
func Allocate(f *os.File, size int64) error {
	if size == 0 {
		return nil
	}
	if err := fallocate.Fallocate(f, 0, size); err != nil {
		// not every filesystem supports fallocate, a sparse file will do
		log.Debugw("fallocate failed, truncating instead", "file", f.Name(), "error", err)
		if err := f.Truncate(size); err != nil {
			return storiface.NewIoError("truncate", f.Name(), err)
		}
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return storiface.NewIoError("open", dir, err)
	}
	defer d.Close() // nolint
	if err := d.Sync(); err != nil {
		return storiface.NewIoError("fsync", dir, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

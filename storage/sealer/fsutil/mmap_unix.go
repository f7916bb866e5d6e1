//go:build !windows

package fsutil

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// MappedFile is a memory mapped view of a file. OpenMapped only ever opens
// files O_RDONLY so that read-only replicas and caches can be proven;
// CreateScratch returns the only writable kind.
type MappedFile struct {
	path string
	f    *os.File
	data []byte
}

func OpenMapped(path string) (*MappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, storiface.NewIoError("open", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, storiface.NewIoError("stat", path, err)
	}

	m := &MappedFile{path: path, f: f}
	if st.Size() == 0 {
		return m, nil
	}

	m.data, err = unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, storiface.NewIoError("mmap", path, err)
	}

	return m, nil
}

// OpenMappedSize maps path and checks that it is exactly size bytes long.
func OpenMappedSize(path string, size int64) (*MappedFile, error) {
	m, err := OpenMapped(path)
	if err != nil {
		return nil, err
	}
	if int64(len(m.data)) != size {
		_ = m.Close()
		return nil, storiface.NewIoError("mmap", path, xerrors.Errorf("file is %d bytes, expected %d", len(m.data), size))
	}
	return m, nil
}

// CreateScratch maps a new size byte file under dir for reading and writing.
// The file is unlinked right away, so its space is released on Close or exit
// and nothing is left behind in dir.
func CreateScratch(dir, pattern string, size int64) (*MappedFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, storiface.NewIoError("create", dir, err)
	}
	path := f.Name()
	if err := os.Remove(path); err != nil {
		_ = f.Close()
		return nil, storiface.NewIoError("unlink", path, err)
	}

	if err := Allocate(f, size); err != nil {
		_ = f.Close()
		return nil, err
	}

	m := &MappedFile{path: path, f: f}
	m.data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, storiface.NewIoError("mmap", path, err)
	}
	return m, nil
}

func (m *MappedFile) Bytes() []byte {
	return m.data
}

func (m *MappedFile) Path() string {
	return m.path
}

func (m *MappedFile) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if cerr := m.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return storiface.NewIoError("close", m.path, err)
	}
	return nil
}

package fsutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func TestWriteAndMap(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "layer")

	data := bytes.Repeat([]byte{1, 2, 3, 4}, 1024)
	require.NoError(t, WriteBytes(p, data))

	_, err := os.Stat(p + ".tmp")
	require.True(t, os.IsNotExist(err))

	require.NoError(t, os.Chmod(p, 0444))

	m, err := OpenMappedSize(p, int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, m.Bytes())
	require.NoError(t, m.Close())

	_, err = OpenMappedSize(p, int64(len(data))+1)
	require.True(t, xerrors.Is(err, storiface.ErrIoError))

	si, err := FileSize(dir)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), si.Logical)
}

func TestWriteFileShort(t *testing.T) {
	p := filepath.Join(t.TempDir(), "short")

	err := WriteFile(p, 100, func(w io.Writer) error {
		_, err := w.Write(make([]byte, 50))
		return err
	})
	require.True(t, xerrors.Is(err, storiface.ErrIoError))

	_, err = os.Stat(p)
	require.True(t, os.IsNotExist(err))
}

func TestMapMissing(t *testing.T) {
	_, err := OpenMapped(filepath.Join(t.TempDir(), "nope"))
	require.True(t, xerrors.Is(err, storiface.ErrIoError))
	require.True(t, xerrors.Is(err, os.ErrNotExist))

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	m, err := OpenMapped(empty)
	require.NoError(t, err)
	require.Empty(t, m.Bytes())
	require.NoError(t, m.Close())
}

func TestStatfs(t *testing.T) {
	st, err := Statfs(t.TempDir())
	require.NoError(t, err)
	require.Greater(t, st.Capacity, int64(0))
}

func TestCreateScratch(t *testing.T) {
	dir := t.TempDir()

	m, err := CreateScratch(dir, "scratch-*", 4096)
	require.NoError(t, err)

	require.Len(t, m.Bytes(), 4096)
	copy(m.Bytes()[100:], []byte("labels"))
	require.Equal(t, []byte("labels"), m.Bytes()[100:106])

	// already unlinked
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, m.Close())
}

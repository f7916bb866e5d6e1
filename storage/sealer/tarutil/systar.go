package tarutil

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("tarutil")

// ExtractTar unpacks a flat archive of sector cache files into dir. Entries
// must be plain files without directory components, and together may not
// exceed maxSize bytes.
func ExtractTar(body io.Reader, dir string, maxSize int64, buf []byte) (int64, error) {
	if err := os.MkdirAll(dir, 0755); err != nil { // nolint
		return 0, xerrors.Errorf("mkdir: %w", err)
	}

	tr := tar.NewReader(body)
	var read int64
	for {
		header, err := tr.Next()
		switch err {
		default:
			return read, err
		case io.EOF:
			return read, nil

		case nil:
		}

		if header.Typeflag != tar.TypeReg {
			return read, xerrors.Errorf("archive entry %q is not a regular file", header.Name)
		}
		if header.Name != filepath.Base(header.Name) || strings.HasPrefix(header.Name, ".") {
			return read, xerrors.Errorf("archive entry %q is not a cache file name", header.Name)
		}
		if read+header.Size > maxSize {
			return read, xerrors.Errorf("archive is larger than %d bytes", maxSize)
		}

		path := filepath.Join(dir, header.Name)
		f, err := os.Create(path)
		if err != nil {
			return read, xerrors.Errorf("creating file %s: %w", path, err)
		}

		r, err := io.CopyBuffer(f, io.LimitReader(tr, header.Size), buf)
		read += r
		if err != nil {
			_ = f.Close()
			return read, err
		}

		if err := f.Close(); err != nil {
			return read, err
		}
		log.Debugw("extracted cache file", "file", path, "size", r)
	}
}

// TarDirectory writes the regular files of dir to w as a flat archive.
func TarDirectory(dir string, w io.Writer, buf []byte) error {
	tw := tar.NewWriter(w)

	files, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, ent := range files {
		if !ent.Type().IsRegular() {
			continue
		}
		file, err := ent.Info()
		if err != nil {
			return err
		}

		h, err := tar.FileInfoHeader(file, "")
		if err != nil {
			return xerrors.Errorf("getting header for file %s: %w", file.Name(), err)
		}

		if err := tw.WriteHeader(h); err != nil {
			return xerrors.Errorf("writing header for file %s: %w", file.Name(), err)
		}

		f, err := os.Open(filepath.Join(dir, file.Name()))
		if err != nil {
			return xerrors.Errorf("opening %s for reading: %w", file.Name(), err)
		}

		if _, err := io.CopyBuffer(tw, f, buf); err != nil {
			_ = f.Close()
			return xerrors.Errorf("copy data for file %s: %w", file.Name(), err)
		}

		if err := f.Close(); err != nil {
			return err
		}
	}

	return tw.Close()
}

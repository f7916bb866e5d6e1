package nullreader

import "io"

// Reader yields zero bytes forever. It backs committed capacity pieces.
type Reader struct{}

func (Reader) Read(out []byte) (int, error) {
	for i := range out {
		out[i] = 0
	}
	return len(out), nil
}

// NewNullReader returns a reader of exactly size zero bytes.
func NewNullReader(size int64) io.Reader {
	return io.LimitReader(Reader{}, size)
}

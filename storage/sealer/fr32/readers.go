package fr32

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
)

// maxChunk bounds the scratch buffers used by the readers.
const maxChunk = 4 << 20

type padReader struct {
	src  io.Reader
	left uint64 // padded bytes still to produce

	work  []byte
	small [paddedChunk]byte
	stash []byte
}

// NewPadReader returns a reader producing the padded form of the sz bytes
// read from src.
func NewPadReader(src io.Reader, sz abi.UnpaddedPieceSize) (io.Reader, error) {
	if err := sz.Validate(); err != nil {
		return nil, xerrors.Errorf("bad piece size: %w", err)
	}

	return &padReader{
		src:  src,
		left: uint64(sz.Padded()),
	}, nil
}

func (r *padReader) Read(out []byte) (int, error) {
	if len(r.stash) > 0 {
		n := copy(out, r.stash)
		r.stash = r.stash[n:]
		return n, nil
	}

	if r.left == 0 {
		return 0, io.EOF
	}

	if len(out) < paddedChunk {
		if err := r.fill(r.small[:]); err != nil {
			return 0, err
		}
		n := copy(out, r.small[:])
		r.stash = r.small[n:]
		return n, nil
	}

	todo := uint64(len(out)) / paddedChunk * paddedChunk
	if todo > r.left {
		todo = r.left
	}
	if todo > maxChunk {
		todo = maxChunk
	}

	if err := r.fill(out[:todo]); err != nil {
		return 0, err
	}
	return int(todo), nil
}

func (r *padReader) fill(out []byte) error {
	need := len(out) / paddedChunk * unpaddedChunk
	if cap(r.work) < need {
		r.work = make([]byte, need)
	}

	if _, err := io.ReadFull(r.src, r.work[:need]); err != nil {
		return xerrors.Errorf("reading unpadded data: %w", err)
	}

	Pad(r.work[:need], out)
	r.left -= uint64(len(out))
	return nil
}

type unpadReader struct {
	src  io.Reader
	left uint64 // padded bytes still to consume

	work  []byte
	small [unpaddedChunk]byte
	stash []byte
}

// NewUnpadReader returns a reader producing the unpadded form of the sz padded
// bytes read from src.
func NewUnpadReader(src io.Reader, sz abi.PaddedPieceSize) (io.Reader, error) {
	if err := sz.Validate(); err != nil {
		return nil, xerrors.Errorf("bad piece size: %w", err)
	}

	return &unpadReader{
		src:  src,
		left: uint64(sz),
	}, nil
}

func (r *unpadReader) Read(out []byte) (int, error) {
	if len(r.stash) > 0 {
		n := copy(out, r.stash)
		r.stash = r.stash[n:]
		return n, nil
	}

	if r.left == 0 {
		return 0, io.EOF
	}

	if len(out) < unpaddedChunk {
		if err := r.fill(r.small[:]); err != nil {
			return 0, err
		}
		n := copy(out, r.small[:])
		r.stash = r.small[n:]
		return n, nil
	}

	chunks := uint64(len(out)) / unpaddedChunk
	if chunks*paddedChunk > r.left {
		chunks = r.left / paddedChunk
	}
	if chunks*paddedChunk > maxChunk {
		chunks = maxChunk / paddedChunk
	}

	todo := chunks * unpaddedChunk
	if err := r.fill(out[:todo]); err != nil {
		return 0, err
	}
	return int(todo), nil
}

func (r *unpadReader) fill(out []byte) error {
	need := len(out) / unpaddedChunk * paddedChunk
	if cap(r.work) < need {
		r.work = make([]byte, need)
	}

	if _, err := io.ReadFull(r.src, r.work[:need]); err != nil {
		return xerrors.Errorf("reading padded data: %w", err)
	}

	Unpad(r.work[:need], out)
	r.left -= uint64(need)
	return nil
}

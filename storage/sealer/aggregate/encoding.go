package aggregate

import (
	"bytes"

	"github.com/multiformats/go-varint"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/snark"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// MarshalBinary encodes the proof as
//
//	uvarint(version) uvarint(count) uvarint(len(commitments)) commitments... folded
func (p *Proof) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(3*varint.MaxLenUvarint63 + len(p.Commitments)*32 + snark.ProofSize)

	buf.Write(varint.ToUvarint(uint64(p.Version)))
	buf.Write(varint.ToUvarint(p.Count))
	buf.Write(varint.ToUvarint(uint64(len(p.Commitments))))
	for _, c := range p.Commitments {
		buf.Write(c[:])
	}
	buf.Write(p.Folded[:])
	return buf.Bytes(), nil
}

func (p *Proof) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)

	v, err := varint.ReadUvarint(r)
	if err != nil {
		return xerrors.Errorf("reading version: %w", err)
	}
	if err := checkVersion(abi.RegisteredAggregationProof(v)); err != nil {
		return err
	}
	count, err := varint.ReadUvarint(r)
	if err != nil {
		return xerrors.Errorf("reading count: %w", err)
	}
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return xerrors.Errorf("reading commitment count: %w", err)
	}
	if n > 64 || uint64(r.Len()) != n*32+snark.ProofSize {
		return xerrors.Errorf("aggregate proof has %d bytes left for %d commitments", r.Len(), n)
	}

	out := Proof{
		Version:     abi.RegisteredAggregationProof(v),
		Count:       count,
		Commitments: make([][32]byte, n),
	}
	for i := range out.Commitments {
		_, _ = r.Read(out.Commitments[i][:])
	}
	_, _ = r.Read(out.Folded[:])

	*p = out
	return nil
}

// DecodeProof decodes an aggregate that must have been made under version.
func DecodeProof(b []byte, version abi.RegisteredAggregationProof) (*Proof, error) {
	var p Proof
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	if p.Version != version {
		return nil, xerrors.Errorf("aggregate made with version %d, expected %d: %w", p.Version, version, storiface.ErrAggregationVersionMismatch)
	}
	return &p, nil
}

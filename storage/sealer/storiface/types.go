package storiface

import (
	"encoding/hex"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-address"
	commcid "github.com/filecoin-project/go-fil-commcid"
	"github.com/filecoin-project/go-state-types/abi"
)

// ProverID is bound into every replica id and every proof's public inputs.
type ProverID [32]byte

// Ticket fixes the sealing randomness.
type Ticket [32]byte

// Seed fixes the interactive (commit) challenge randomness.
type Seed [32]byte

// Commitment is a 32 byte merkle root (CommR, CommD, CommC, CommRLast).
type Commitment [32]byte

// ToProverID builds the prover id the same way the proofs ffi does: the
// payload of the miner's ID address, zero padded to 32 bytes.
func ToProverID(miner abi.ActorID) (ProverID, error) {
	maddr, err := address.NewIDAddress(uint64(miner))
	if err != nil {
		return ProverID{}, xerrors.Errorf("failed to convert ActorID to prover id ([32]byte) for FFI: %w", err)
	}

	var out ProverID
	copy(out[:], maddr.Payload())
	return out, nil
}

func TicketFromRandomness(r abi.SealRandomness) (Ticket, error) {
	var t Ticket
	if len(r) != len(t) {
		return t, xerrors.Errorf("ticket must be %d bytes, got %d", len(t), len(r))
	}
	copy(t[:], r)
	return t, nil
}

func SeedFromRandomness(r abi.InteractiveSealRandomness) (Seed, error) {
	var s Seed
	if len(r) != len(s) {
		return s, xerrors.Errorf("seed must be %d bytes, got %d", len(s), len(r))
	}
	copy(s[:], r)
	return s, nil
}

func (c Commitment) SealedCID() (cid.Cid, error) {
	return commcid.ReplicaCommitmentV1ToCID(c[:])
}

func (c Commitment) UnsealedCID() (cid.Cid, error) {
	return commcid.DataCommitmentV1ToCID(c[:])
}

func ReplicaCommitment(c cid.Cid) (Commitment, error) {
	var out Commitment
	b, err := commcid.CIDToReplicaCommitmentV1(c)
	if err != nil {
		return out, xerrors.Errorf("sealed cid %s: %w", c, err)
	}
	copy(out[:], b)
	return out, nil
}

func DataCommitment(c cid.Cid) (Commitment, error) {
	var out Commitment
	b, err := commcid.CIDToDataCommitmentV1(c)
	if err != nil {
		return out, xerrors.Errorf("unsealed cid %s: %w", c, err)
	}
	copy(out[:], b)
	return out, nil
}

// ToCids converts a (CommD, CommR) pair to the CIDs used on chain.
func ToCids(commD, commR Commitment) (SectorCids, error) {
	u, err := commD.UnsealedCID()
	if err != nil {
		return SectorCids{}, err
	}
	s, err := commR.SealedCID()
	if err != nil {
		return SectorCids{}, err
	}
	return SectorCids{Unsealed: u, Sealed: s}, nil
}

func (p ProverID) MarshalText() ([]byte, error)    { return marshalHex(p[:]) }
func (p *ProverID) UnmarshalText(b []byte) error   { return unmarshalHex(p[:], b) }
func (t Ticket) MarshalText() ([]byte, error)      { return marshalHex(t[:]) }
func (t *Ticket) UnmarshalText(b []byte) error     { return unmarshalHex(t[:], b) }
func (s Seed) MarshalText() ([]byte, error)        { return marshalHex(s[:]) }
func (s *Seed) UnmarshalText(b []byte) error       { return unmarshalHex(s[:], b) }
func (c Commitment) MarshalText() ([]byte, error)  { return marshalHex(c[:]) }
func (c *Commitment) UnmarshalText(b []byte) error { return unmarshalHex(c[:], b) }

func (c Commitment) String() string { return hex.EncodeToString(c[:]) }

func marshalHex(b []byte) ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return out, nil
}

func unmarshalHex(dst []byte, src []byte) error {
	if hex.DecodedLen(len(src)) != len(dst) {
		return xerrors.Errorf("expected %d hex encoded bytes, got %d characters", len(dst), len(src))
	}
	_, err := hex.Decode(dst, src)
	return err
}

// UnpaddedByteIndex is an offset into the unpadded sector data.
type UnpaddedByteIndex uint64

func (i UnpaddedByteIndex) Padded() PaddedByteIndex {
	return PaddedByteIndex(abi.UnpaddedPieceSize(i).Padded())
}

func (i UnpaddedByteIndex) Valid() error {
	if i%127 != 0 {
		return xerrors.Errorf("unpadded byte index must be a multiple of 127")
	}

	return nil
}

type PaddedByteIndex uint64

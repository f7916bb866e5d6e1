package snark

import (
	"crypto/subtle"
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

const proofElems = ProofSize / 32

type foldElem [proofElems]fr.Element

func domainSeparator(v abi.RegisteredAggregationProof) ([]byte, error) {
	switch v {
	case abi.RegisteredAggregationProof_SnarkPackV1:
		return []byte("snarkpack-v1"), nil
	case abi.RegisteredAggregationProof_SnarkPackV2:
		return []byte("snarkpack-v2"), nil
	default:
		return nil, xerrors.Errorf("unsupported aggregation version %d", v)
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fold pads proofs to a power of two by repeating the last one, then halves
// the set every round: next = left + r*right, with r drawn from the
// transcript after committing to the current set.
func fold(v abi.RegisteredAggregationProof, transcript []byte, proofs []Proof) (*AggregateProof, error) {
	sep, err := domainSeparator(v)
	if err != nil {
		return nil, err
	}
	if len(proofs) == 0 {
		return nil, xerrors.New("no proofs to aggregate")
	}

	n := len(proofs)
	padded := nextPow2(n)

	elems := make([]foldElem, padded)
	for i := range elems {
		src := proofs[n-1]
		if i < n {
			src = proofs[i]
		}
		if len(src) != ProofSize {
			return nil, xerrors.Errorf("proof %d is %d bytes, expected %d", i, len(src), ProofSize)
		}
		for k := range elems[i] {
			elems[i][k].SetBytes(src[k*32 : (k+1)*32])
		}
	}

	h := sha256.New()
	_, _ = h.Write(sep)
	_, _ = h.Write(transcript)
	if v == abi.RegisteredAggregationProof_SnarkPackV2 {
		var cnt [16]byte
		binary.LittleEndian.PutUint64(cnt[:8], uint64(n))
		binary.LittleEndian.PutUint64(cnt[8:], uint64(padded))
		_, _ = h.Write(cnt[:])
	}
	var state [32]byte
	h.Sum(state[:0])

	out := &AggregateProof{Version: v, Count: uint64(n)}
	for len(elems) > 1 {
		ch := sha256.New()
		_, _ = ch.Write(state[:])
		for i := range elems {
			for k := range elems[i] {
				b := elems[i][k].Bytes()
				_, _ = ch.Write(b[:])
			}
		}
		var com [32]byte
		ch.Sum(com[:0])

		rb := sha256.Sum256(append(com[:], sep...))
		var r fr.Element
		r.SetBytes(rb[:])

		half := len(elems) / 2
		next := make([]foldElem, half)
		for i := range next {
			for k := range next[i] {
				var t fr.Element
				t.Mul(&r, &elems[half+i][k])
				next[i][k].Add(&elems[i][k], &t)
			}
		}

		elems = next
		state = com
		out.Commitments = append(out.Commitments, com)
	}

	for k := range elems[0] {
		b := elems[0][k].Bytes()
		copy(out.Folded[k*32:], b[:])
	}
	return out, nil
}

func (b *DigestBackend) AggregateProofs(v abi.RegisteredAggregationProof, transcript []byte, proofs []Proof) (*AggregateProof, error) {
	return fold(v, transcript, proofs)
}

// VerifyAggregate recomputes the proofs each statement must have had and
// checks that they fold into agg.
func (b *DigestBackend) VerifyAggregate(v abi.RegisteredAggregationProof, transcript []byte, vks []VerifyingKey, inputs [][]domain.Node, agg *AggregateProof) (bool, error) {
	if len(vks) != len(inputs) {
		return false, xerrors.Errorf("got %d verifying keys for %d statements", len(vks), len(inputs))
	}
	if agg == nil || agg.Version != v || agg.Count != uint64(len(inputs)) || len(inputs) == 0 {
		return false, nil
	}

	expected := make([]Proof, len(inputs))
	for i := range inputs {
		expected[i] = expand(vks[i].Key, inputs[i])
	}

	want, err := fold(v, transcript, expected)
	if err != nil {
		return false, err
	}
	if len(want.Commitments) != len(agg.Commitments) {
		return false, nil
	}

	ok := subtle.ConstantTimeCompare(want.Folded[:], agg.Folded[:]) == 1
	for i := range want.Commitments {
		ok = subtle.ConstantTimeCompare(want.Commitments[i][:], agg.Commitments[i][:]) == 1 && ok
	}
	return ok, nil
}

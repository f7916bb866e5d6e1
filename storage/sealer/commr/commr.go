package commr

import (
	"math/big"
	"sync"

	"github.com/triplewz/poseidon"
	ff "github.com/triplewz/poseidon/bls12_381"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

type hashFn func([]*big.Int) (*big.Int, error)

var (
	hashersLk sync.Mutex
	hashers   = map[int]hashFn{}
)

// constants are expensive to generate, keep one set per arity
func hasherFor(arity int) (hashFn, error) {
	hashersLk.Lock()
	defer hashersLk.Unlock()

	if h, ok := hashers[arity]; ok {
		return h, nil
	}

	cons, err := poseidon.GenPoseidonConstants(arity + 1)
	if err != nil {
		return nil, xerrors.Errorf("generating poseidon constants for arity %d: %w", arity, err)
	}

	h := func(in []*big.Int) (*big.Int, error) {
		return poseidon.Hash(in, cons, poseidon.OptimizedStatic)
	}
	hashers[arity] = h
	return h, nil
}

// Poseidon hashes len(in) nodes with the poseidon instance of that arity.
func Poseidon(in []domain.Node) (domain.Node, error) {
	h, err := hasherFor(len(in))
	if err != nil {
		return domain.Node{}, err
	}

	input := make([]*big.Int, len(in))
	for i, n := range in {
		// reverse so that endianness is correct
		for a, b := 0, len(n)-1; a < b; a, b = a+1, b-1 {
			n[a], n[b] = n[b], n[a]
		}
		input[i] = new(big.Int).SetBytes(n[:])
	}

	out, err := h(input)
	if err != nil {
		return domain.Node{}, xerrors.Errorf("poseidon hash: %w", err)
	}

	res := new(ff.Element).SetBigInt(out).Bytes()

	// reverse the bytes so that endianness is correct
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}

	return domain.Node(res), nil
}

// CommR binds the column commitment and the replica tree root together.
func CommR(commC, commRLast domain.Node) (domain.Node, error) {
	return Poseidon([]domain.Node{commC, commRLast})
}

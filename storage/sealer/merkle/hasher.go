package merkle

import (
	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

// Hasher combines the children of a node into the node.
type Hasher interface {
	Name() string
	Hash(children []domain.Node) (domain.Node, error)
}

var (
	// Sha256 is used for the data tree; its root is the piece commitment.
	Sha256 Hasher = sha256Hasher{}
	// Poseidon is used for the column and replica trees.
	Poseidon Hasher = poseidonHasher{}
)

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return "sha256" }

func (sha256Hasher) Hash(children []domain.Node) (domain.Node, error) {
	parts := make([][]byte, len(children))
	for i := range children {
		parts[i] = children[i][:]
	}
	return domain.Sha256Trunc(parts...), nil
}

type poseidonHasher struct{}

func (poseidonHasher) Name() string { return "poseidon" }

func (poseidonHasher) Hash(children []domain.Node) (domain.Node, error) {
	return commr.Poseidon(children)
}

package merkle

import (
	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

// PathElement holds the siblings of a node at one level and the position of
// the node among them.
type PathElement struct {
	Hashes []domain.Node
	Index  uint64
}

// Proof is an inclusion proof from a leaf to a root. For compound trees the
// path continues through the sub and top levels.
type Proof struct {
	Leaf domain.Node
	Root domain.Node
	Path []PathElement
}

// LeafIndex reconstructs the index of the proven leaf from the path. All
// levels must share the arity the proof was built with, except for the
// compound levels whose arity is given by len(Hashes)+1.
func (p *Proof) LeafIndex() uint64 {
	var idx, mul uint64 = 0, 1
	for _, el := range p.Path {
		idx += el.Index * mul
		mul *= uint64(len(el.Hashes) + 1)
	}
	return idx
}

// Verify recomputes the root from the leaf and the path.
func (p *Proof) Verify(h Hasher) (bool, error) {
	cur := p.Leaf
	for lvl, el := range p.Path {
		arity := uint64(len(el.Hashes) + 1)
		if el.Index >= arity {
			return false, nil
		}

		children := make([]domain.Node, 0, arity)
		children = append(children, el.Hashes[:el.Index]...)
		children = append(children, cur)
		children = append(children, el.Hashes[el.Index:]...)

		n, err := h.Hash(children)
		if err != nil {
			return false, xerrors.Errorf("hashing level %d: %w", lvl, err)
		}
		cur = n
	}
	return cur == p.Root, nil
}

// VerifyAt also checks that the proof is for leaf i.
func (p *Proof) VerifyAt(h Hasher, i uint64) (bool, error) {
	if p.LeafIndex() != i {
		return false, nil
	}
	return p.Verify(h)
}

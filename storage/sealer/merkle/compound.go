package merkle

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

// Compound is a tree split into Shape.BaseTrees() base trees of arity 8 whose
// roots are joined by the shape's sub and top levels.
type Compound struct {
	h     Hasher
	shape Shape
	bases []*Tree

	subRoots []domain.Node
	root     domain.Node
}

func NewCompound(h Hasher, shape Shape, bases []*Tree) (*Compound, error) {
	if !shape.Valid() {
		return nil, xerrors.Errorf("invalid shape %d", shape)
	}
	if len(bases) != shape.BaseTrees() {
		return nil, xerrors.Errorf("shape %s needs %d base trees, got %d", shape, shape.BaseTrees(), len(bases))
	}
	for i, b := range bases {
		if b.Arity() != BaseArity {
			return nil, xerrors.Errorf("base tree %d has arity %d", i, b.Arity())
		}
		if b.Leaves() != bases[0].Leaves() {
			return nil, xerrors.Errorf("base tree %d has %d leaves, expected %d", i, b.Leaves(), bases[0].Leaves())
		}
	}

	roots := make([]domain.Node, len(bases))
	for i, b := range bases {
		roots[i] = b.Root()
	}

	c := &Compound{h: h, shape: shape, bases: bases}

	var err error
	c.subRoots, c.root, err = CompoundRoot(h, shape, roots)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CompoundRoot joins base tree roots into the compound root. The returned sub
// roots are nil for shapes without a top level.
func CompoundRoot(h Hasher, shape Shape, baseRoots []domain.Node) ([]domain.Node, domain.Node, error) {
	if len(baseRoots) != shape.BaseTrees() {
		return nil, domain.Node{}, xerrors.Errorf("shape %s needs %d base roots, got %d", shape, shape.BaseTrees(), len(baseRoots))
	}

	sub, top := shape.SubArity(), shape.TopArity()
	switch {
	case sub == 0:
		return nil, baseRoots[0], nil
	case top == 0:
		root, err := h.Hash(baseRoots)
		return nil, root, err
	}

	subRoots := make([]domain.Node, top)
	for i := range subRoots {
		r, err := h.Hash(baseRoots[i*sub : (i+1)*sub])
		if err != nil {
			return nil, domain.Node{}, xerrors.Errorf("hashing sub tree %d: %w", i, err)
		}
		subRoots[i] = r
	}
	root, err := h.Hash(subRoots)
	if err != nil {
		return nil, domain.Node{}, xerrors.Errorf("hashing top tree: %w", err)
	}
	return subRoots, root, nil
}

// BuildCompound builds every base tree in memory.
func BuildCompound(h Hasher, shape Shape, leaves []byte) (*Compound, error) {
	per, err := shape.BaseLeaves(uint64(len(leaves) / domain.NodeSize))
	if err != nil {
		return nil, err
	}

	bases := make([]*Tree, shape.BaseTrees())
	for i := range bases {
		chunk := leaves[uint64(i)*per*domain.NodeSize : uint64(i+1)*per*domain.NodeSize]
		if bases[i], err = Build(h, BaseArity, chunk); err != nil {
			return nil, xerrors.Errorf("building base tree %d: %w", i, err)
		}
	}
	return NewCompound(h, shape, bases)
}

func (c *Compound) Shape() Shape { return c.shape }

func (c *Compound) Root() domain.Node { return c.root }

func (c *Compound) Leaves() uint64 {
	return c.bases[0].Leaves() * uint64(len(c.bases))
}

func (c *Compound) Leaf(i uint64) domain.Node {
	per := c.bases[0].Leaves()
	return c.bases[i/per].Leaf(i % per)
}

// Proof returns the inclusion proof of leaf i up to the compound root.
func (c *Compound) Proof(i uint64) (*Proof, error) {
	if i >= c.Leaves() {
		return nil, xerrors.Errorf("leaf %d out of range (tree has %d leaves)", i, c.Leaves())
	}

	per := c.bases[0].Leaves()
	b := i / per

	p, err := c.bases[b].Proof(i % per)
	if err != nil {
		return nil, err
	}
	p.Root = c.root

	sub, top := uint64(c.shape.SubArity()), uint64(c.shape.TopArity())
	if sub == 0 {
		return p, nil
	}

	first := b / sub * sub
	el := PathElement{Index: b % sub}
	for j := first; j < first+sub; j++ {
		if j != b {
			el.Hashes = append(el.Hashes, c.bases[j].Root())
		}
	}
	p.Path = append(p.Path, el)

	if top == 0 {
		return p, nil
	}

	s := b / sub
	el = PathElement{Index: s}
	for j := uint64(0); j < top; j++ {
		if j != s {
			el.Hashes = append(el.Hashes, c.subRoots[j])
		}
	}
	p.Path = append(p.Path, el)

	return p, nil
}

// RootOf computes the compound root over leaves without keeping any level.
func RootOf(h Hasher, shape Shape, leaves []byte) (domain.Node, error) {
	per, err := shape.BaseLeaves(uint64(len(leaves) / domain.NodeSize))
	if err != nil {
		return domain.Node{}, err
	}

	roots := make([]domain.Node, shape.BaseTrees())
	for i := range roots {
		chunk := leaves[uint64(i)*per*domain.NodeSize : uint64(i+1)*per*domain.NodeSize]
		if roots[i], err = BuildTo(h, BaseArity, chunk, io.Discard, false); err != nil {
			return domain.Node{}, xerrors.Errorf("hashing base tree %d: %w", i, err)
		}
	}

	_, root, err := CompoundRoot(h, shape, roots)
	return root, err
}

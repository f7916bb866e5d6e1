package merkle

import (
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

// levels with fewer parents than this are hashed on the calling goroutine
const parallelThreshold = 1 << 12

// LevelSizes returns the node count of every level of a complete tree,
// leaves first.
func LevelSizes(leaves uint64, arity int) ([]uint64, error) {
	if arity < 2 {
		return nil, xerrors.Errorf("bad arity %d", arity)
	}
	if leaves == 0 {
		return nil, xerrors.New("tree must have at least one leaf")
	}

	out := []uint64{leaves}
	for n := leaves; n > 1; {
		if n%uint64(arity) != 0 {
			return nil, xerrors.Errorf("%d leaves is not a power of %d", leaves, arity)
		}
		n /= uint64(arity)
		out = append(out, n)
	}
	return out, nil
}

// UpperNodes is the number of nodes above the leaves.
func UpperNodes(leaves uint64, arity int) (uint64, error) {
	sizes, err := LevelSizes(leaves, arity)
	if err != nil {
		return 0, err
	}
	var n uint64
	for _, s := range sizes[1:] {
		n += s
	}
	return n, nil
}

// StoreSize is the on-disk size of a tree, with or without its leaves.
func StoreSize(leaves uint64, arity int, withLeaves bool) (int64, error) {
	upper, err := UpperNodes(leaves, arity)
	if err != nil {
		return 0, err
	}
	if withLeaves {
		upper += leaves
	}
	return int64(upper) * domain.NodeSize, nil
}

// Tree is a complete tree with every level held as a packed node array.
// The arrays may be backed by memory mapped files.
type Tree struct {
	arity  int
	levels [][]byte
}

// New assembles a tree from its leaf level and the levels above it, stored
// lowest first as written by BuildTo.
func New(arity int, leaves []byte, upper []byte) (*Tree, error) {
	if len(leaves)%domain.NodeSize != 0 {
		return nil, xerrors.Errorf("leaf data is not a multiple of %d bytes", domain.NodeSize)
	}

	sizes, err := LevelSizes(uint64(len(leaves)/domain.NodeSize), arity)
	if err != nil {
		return nil, err
	}

	t := &Tree{arity: arity, levels: [][]byte{leaves}}
	var off uint64
	for _, n := range sizes[1:] {
		end := off + n*domain.NodeSize
		if end > uint64(len(upper)) {
			return nil, xerrors.Errorf("tree data too short: have %d bytes, need at least %d", len(upper), end)
		}
		t.levels = append(t.levels, upper[off:end])
		off = end
	}
	if off != uint64(len(upper)) {
		return nil, xerrors.Errorf("tree data has %d trailing bytes", uint64(len(upper))-off)
	}

	return t, nil
}

// Build computes a whole tree in memory.
func Build(h Hasher, arity int, leaves []byte) (*Tree, error) {
	var upper upperBuffer
	if _, err := BuildTo(h, arity, leaves, &upper, false); err != nil {
		return nil, err
	}
	return New(arity, leaves, upper.b)
}

// BuildTo hashes the tree level by level and streams the levels to w, lowest
// first. Only one level is held in memory at a time.
func BuildTo(h Hasher, arity int, leaves []byte, w io.Writer, withLeaves bool) (domain.Node, error) {
	if len(leaves)%domain.NodeSize != 0 {
		return domain.Node{}, xerrors.Errorf("leaf data is not a multiple of %d bytes", domain.NodeSize)
	}
	if _, err := LevelSizes(uint64(len(leaves)/domain.NodeSize), arity); err != nil {
		return domain.Node{}, err
	}

	if withLeaves {
		if _, err := w.Write(leaves); err != nil {
			return domain.Node{}, xerrors.Errorf("writing leaves: %w", err)
		}
	}

	cur := leaves
	for len(cur) > domain.NodeSize {
		next, err := hashLevel(h, arity, cur)
		if err != nil {
			return domain.Node{}, err
		}
		if _, err := w.Write(next); err != nil {
			return domain.Node{}, xerrors.Errorf("writing tree level: %w", err)
		}
		cur = next
	}

	return domain.At(cur, 0), nil
}

func hashLevel(h Hasher, arity int, in []byte) ([]byte, error) {
	parents := uint64(len(in)) / domain.NodeSize / uint64(arity)
	out := make([]byte, parents*domain.NodeSize)

	hashRange := func(from, to uint64) error {
		children := make([]domain.Node, arity)
		for p := from; p < to; p++ {
			for c := range children {
				children[c] = domain.At(in, p*uint64(arity)+uint64(c))
			}
			n, err := h.Hash(children)
			if err != nil {
				return xerrors.Errorf("hashing node %d: %w", p, err)
			}
			domain.Put(out, p, n)
		}
		return nil
	}

	if parents < parallelThreshold {
		return out, hashRange(0, parents)
	}

	workers := uint64(runtime.NumCPU())
	per := (parents + workers - 1) / workers

	var eg errgroup.Group
	for from := uint64(0); from < parents; from += per {
		from, to := from, from+per
		if to > parents {
			to = parents
		}
		eg.Go(func() error {
			return hashRange(from, to)
		})
	}
	return out, eg.Wait()
}

func (t *Tree) Arity() int { return t.arity }

func (t *Tree) Leaves() uint64 {
	return uint64(len(t.levels[0]) / domain.NodeSize)
}

func (t *Tree) Leaf(i uint64) domain.Node {
	return domain.At(t.levels[0], i)
}

func (t *Tree) Root() domain.Node {
	return domain.At(t.levels[len(t.levels)-1], 0)
}

// Proof returns the inclusion proof of leaf i.
func (t *Tree) Proof(i uint64) (*Proof, error) {
	if i >= t.Leaves() {
		return nil, xerrors.Errorf("leaf %d out of range (tree has %d leaves)", i, t.Leaves())
	}

	p := &Proof{Leaf: t.Leaf(i), Root: t.Root()}
	arity := uint64(t.arity)
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		first := idx / arity * arity
		pos := idx % arity

		el := PathElement{Index: pos, Hashes: make([]domain.Node, 0, arity-1)}
		for j := uint64(0); j < arity; j++ {
			if j == pos {
				continue
			}
			el.Hashes = append(el.Hashes, domain.At(level, first+j))
		}
		p.Path = append(p.Path, el)
		idx /= arity
	}

	return p, nil
}

type upperBuffer struct {
	b []byte
}

func (u *upperBuffer) Write(p []byte) (int, error) {
	u.b = append(u.b, p...)
	return len(p), nil
}

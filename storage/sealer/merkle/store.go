package merkle

import (
	"io"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// WriteTree builds a tree over leaves and writes it to path, lowest level
// first.
func WriteTree(h Hasher, arity int, leaves []byte, path string, withLeaves bool) (domain.Node, error) {
	size, err := StoreSize(uint64(len(leaves)/domain.NodeSize), arity, withLeaves)
	if err != nil {
		return domain.Node{}, err
	}

	var root domain.Node
	err = fsutil.WriteFile(path, size, func(w io.Writer) error {
		var err error
		root, err = BuildTo(h, arity, leaves, w, withLeaves)
		return err
	})
	return root, err
}

// WriteCompound writes one file per base tree into dir under names and
// returns the compound root.
func WriteCompound(h Hasher, shape Shape, leaves []byte, dir string, names []string, withLeaves bool) (domain.Node, error) {
	per, err := shape.BaseLeaves(uint64(len(leaves) / domain.NodeSize))
	if err != nil {
		return domain.Node{}, err
	}
	if len(names) != shape.BaseTrees() {
		return domain.Node{}, xerrors.Errorf("shape %s has %d base trees, got %d file names", shape, shape.BaseTrees(), len(names))
	}

	roots := make([]domain.Node, len(names))
	for i, name := range names {
		chunk := leaves[uint64(i)*per*domain.NodeSize : uint64(i+1)*per*domain.NodeSize]
		if roots[i], err = WriteTree(h, BaseArity, chunk, filepath.Join(dir, name), withLeaves); err != nil {
			return domain.Node{}, xerrors.Errorf("writing base tree %d: %w", i, err)
		}
	}

	_, root, err := CompoundRoot(h, shape, roots)
	return root, err
}

// MappedTree is a tree whose levels live in a memory mapped file.
type MappedTree struct {
	*Tree
	file *fsutil.MappedFile
}

// OpenTree maps a tree file written with its leaves.
func OpenTree(path string, arity int, leaves uint64) (*MappedTree, error) {
	size, err := StoreSize(leaves, arity, true)
	if err != nil {
		return nil, err
	}
	f, err := fsutil.OpenMappedSize(path, size)
	if err != nil {
		return nil, err
	}

	data := f.Bytes()
	t, err := New(arity, data[:leaves*domain.NodeSize], data[leaves*domain.NodeSize:])
	if err != nil {
		_ = f.Close()
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	return &MappedTree{Tree: t, file: f}, nil
}

func (t *MappedTree) Close() error {
	return t.file.Close()
}

// MappedCompound is a compound tree backed by one mapped file per base tree.
type MappedCompound struct {
	*Compound
	files []*fsutil.MappedFile
}

// OpenCompound maps the base tree files at paths. If leafData is nil the files
// must contain their leaves, otherwise the leaves are taken from leafData and
// the files hold only the upper levels.
func OpenCompound(h Hasher, shape Shape, paths []string, nodes uint64, leafData []byte) (*MappedCompound, error) {
	per, err := shape.BaseLeaves(nodes)
	if err != nil {
		return nil, err
	}
	if len(paths) != shape.BaseTrees() {
		return nil, xerrors.Errorf("shape %s has %d base trees, got %d paths", shape, shape.BaseTrees(), len(paths))
	}
	if leafData != nil && uint64(len(leafData)) < nodes*domain.NodeSize {
		return nil, storiface.NewIoError("read", "leaf data", xerrors.Errorf("have %d bytes, need %d", len(leafData), nodes*domain.NodeSize))
	}

	size, err := StoreSize(per, BaseArity, leafData == nil)
	if err != nil {
		return nil, err
	}

	mc := &MappedCompound{}
	bases := make([]*Tree, len(paths))
	for i, p := range paths {
		f, err := fsutil.OpenMappedSize(p, size)
		if err != nil {
			_ = mc.Close()
			return nil, err
		}
		mc.files = append(mc.files, f)

		data := f.Bytes()
		var leaves, upper []byte
		if leafData == nil {
			leaves, upper = data[:per*domain.NodeSize], data[per*domain.NodeSize:]
		} else {
			leaves, upper = leafData[uint64(i)*per*domain.NodeSize:uint64(i+1)*per*domain.NodeSize], data
		}

		if bases[i], err = New(BaseArity, leaves, upper); err != nil {
			_ = mc.Close()
			return nil, xerrors.Errorf("%s: %w", p, err)
		}
	}

	if mc.Compound, err = NewCompound(h, shape, bases); err != nil {
		_ = mc.Close()
		return nil, err
	}
	return mc, nil
}

func (c *MappedCompound) Close() error {
	var err error
	for _, f := range c.files {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	c.files = nil
	return err
}

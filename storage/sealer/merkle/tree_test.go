package merkle

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-commp-utils/v2/zerocomm"
	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func randomNodes(t *testing.T, seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	out := make([]byte, n*domain.NodeSize)
	_, err := r.Read(out)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		out[i*domain.NodeSize+31] &= 0x3f
	}
	return out
}

func TestLevelSizes(t *testing.T) {
	sizes, err := LevelSizes(64, 8)
	require.NoError(t, err)
	require.Equal(t, []uint64{64, 8, 1}, sizes)

	sizes, err = LevelSizes(8, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{8, 4, 2, 1}, sizes)

	_, err = LevelSizes(24, 8)
	require.Error(t, err)

	n, err := StoreSize(64, 2, true)
	require.NoError(t, err)
	require.Equal(t, int64(127*32), n)

	n, err = StoreSize(64, 8, false)
	require.NoError(t, err)
	require.Equal(t, int64(9*32), n)
}

func TestTreeDZeroCommitment(t *testing.T) {
	ssize := abi.PaddedPieceSize(2048)
	leaves := make([]byte, ssize)

	tree, err := Build(Sha256, 2, leaves)
	require.NoError(t, err)

	c, err := storiface.Commitment(tree.Root()).UnsealedCID()
	require.NoError(t, err)
	require.Equal(t, zerocomm.ZeroPieceCommitment(ssize.Unpadded()), c)
}

func TestProofs(t *testing.T) {
	for _, arity := range []int{2, 8} {
		leaves := randomNodes(t, int64(arity), 64)

		h := Sha256
		if arity == 8 {
			h = Poseidon
		}

		tree, err := Build(h, arity, leaves)
		require.NoError(t, err)

		for _, i := range []uint64{0, 1, 9, 63} {
			p, err := tree.Proof(i)
			require.NoError(t, err)
			require.Equal(t, i, p.LeafIndex())

			ok, err := p.VerifyAt(h, i)
			require.NoError(t, err)
			require.True(t, ok)

			p.Leaf[0] ^= 1
			ok, err = p.Verify(h)
			require.NoError(t, err)
			require.False(t, ok)
		}

		_, err = tree.Proof(64)
		require.Error(t, err)
	}
}

func TestBuildToMatchesBuild(t *testing.T) {
	leaves := randomNodes(t, 1, 512)

	tree, err := Build(Sha256, 2, leaves)
	require.NoError(t, err)

	var buf bytes.Buffer
	root, err := BuildTo(Sha256, 2, leaves, &buf, true)
	require.NoError(t, err)
	require.Equal(t, tree.Root(), root)

	size, err := StoreSize(512, 2, true)
	require.NoError(t, err)
	require.Equal(t, size, int64(buf.Len()))
	require.Equal(t, leaves, buf.Bytes()[:len(leaves)])
}

func TestCompoundShapes(t *testing.T) {
	for _, tc := range []struct {
		shape Shape
		nodes int
	}{
		{ShapeBase8, 64},
		{ShapeSub8_2, 128},
		{ShapeSub8_8, 512},
		{ShapeTop8_8_2, 1024},
	} {
		tc := tc
		t.Run(tc.shape.String(), func(t *testing.T) {
			parsed, err := ParseShape(tc.shape.String())
			require.NoError(t, err)
			require.Equal(t, tc.shape, parsed)

			leaves := randomNodes(t, int64(tc.nodes), tc.nodes)

			c, err := BuildCompound(Poseidon, tc.shape, leaves)
			require.NoError(t, err)
			require.Equal(t, uint64(tc.nodes), c.Leaves())

			for _, i := range []uint64{0, 63, uint64(tc.nodes - 1)} {
				require.Equal(t, domain.At(leaves, i), c.Leaf(i))

				p, err := c.Proof(i)
				require.NoError(t, err)
				require.Equal(t, c.Root(), p.Root)

				ok, err := p.VerifyAt(Poseidon, i)
				require.NoError(t, err)
				require.True(t, ok)
			}

			dir := t.TempDir()
			names := make([]string, tc.shape.BaseTrees())
			paths := make([]string, len(names))
			for i := range names {
				names[i] = "tree-" + string(rune('a'+i)) + ".dat"
				paths[i] = filepath.Join(dir, names[i])
			}

			root, err := WriteCompound(Poseidon, tc.shape, leaves, dir, names, false)
			require.NoError(t, err)
			require.Equal(t, c.Root(), root)

			mc, err := OpenCompound(Poseidon, tc.shape, paths, uint64(tc.nodes), leaves)
			require.NoError(t, err)
			defer mc.Close() // nolint

			require.Equal(t, c.Root(), mc.Root())
			p, err := mc.Proof(uint64(tc.nodes / 2))
			require.NoError(t, err)
			ok, err := p.VerifyAt(Poseidon, uint64(tc.nodes/2))
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestOpenTreeRejectsWrongSize(t *testing.T) {
	leaves := randomNodes(t, 3, 64)
	path := filepath.Join(t.TempDir(), "tree-d.dat")

	root, err := WriteTree(Sha256, 2, leaves, path, true)
	require.NoError(t, err)

	mt, err := OpenTree(path, 2, 64)
	require.NoError(t, err)
	require.Equal(t, root, mt.Root())
	require.Equal(t, domain.At(leaves, 5), mt.Leaf(5))
	require.NoError(t, mt.Close())

	require.NoError(t, os.Truncate(path, 100))
	_, err = OpenTree(path, 2, 64)
	require.ErrorIs(t, err, storiface.ErrIoError)
}

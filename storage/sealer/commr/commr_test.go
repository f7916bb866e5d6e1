package commr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

func TestPoseidonArities(t *testing.T) {
	for _, arity := range []int{2, 8} {
		in := make([]domain.Node, arity)
		for i := range in {
			in[i] = domain.FromUint64(uint64(i + 1))
		}
		orig := append([]domain.Node(nil), in...)

		a, err := Poseidon(in)
		require.NoError(t, err)
		require.Equal(t, orig, in, "inputs must not be modified")

		b, err := Poseidon(in)
		require.NoError(t, err)
		require.Equal(t, a, b)

		_, err = a.Fr()
		require.NoError(t, err)

		in[0] = domain.FromUint64(100)
		c, err := Poseidon(in)
		require.NoError(t, err)
		require.NotEqual(t, a, c)
	}
}

func TestCommR(t *testing.T) {
	commC := domain.Sha256Trunc([]byte("comm_c"))
	commRLast := domain.Sha256Trunc([]byte("comm_r_last"))

	r1, err := CommR(commC, commRLast)
	require.NoError(t, err)

	r2, err := CommR(commRLast, commC)
	require.NoError(t, err)
	require.NotEqual(t, r1, r2)

	p, err := Poseidon([]domain.Node{commC, commRLast})
	require.NoError(t, err)
	require.Equal(t, r1, p)
}

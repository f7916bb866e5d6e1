package snark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

type testCircuit struct {
	id     string
	inputs []domain.Node
	err    error
}

func (c *testCircuit) ID() string                  { return c.id }
func (c *testCircuit) PublicInputs() []domain.Node { return c.inputs }
func (c *testCircuit) Synthesize() error           { return c.err }

func TestProveVerify(t *testing.T) {
	b, err := NewDigestBackend([32]byte{1})
	require.NoError(t, err)

	c := &testCircuit{id: "test-p0", inputs: []domain.Node{domain.FromUint64(1), domain.FromUint64(2)}}
	proof, err := b.Prove(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, proof, ProofSize)

	p, err := b.Params(c.id)
	require.NoError(t, err)

	ok, err := b.Verify(p.VK, c.inputs, proof)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Verify(p.VK, []domain.Node{domain.FromUint64(1), domain.FromUint64(3)}, proof)
	require.NoError(t, err)
	require.False(t, ok)

	other, err := b.Params("test-p1")
	require.NoError(t, err)
	ok, err = b.Verify(other.VK, c.inputs, proof)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = b.Verify(p.VK, c.inputs, proof[:100])
	require.NoError(t, err)
	require.False(t, ok)

	bad := &testCircuit{id: "test-p0", err: xerrors.New("relation does not hold")}
	_, err = b.Prove(context.Background(), bad)
	require.Error(t, err)
}

func TestAggregate(t *testing.T) {
	b, err := NewDigestBackend([32]byte{2})
	require.NoError(t, err)

	var (
		proofs []Proof
		vks    []VerifyingKey
		inputs [][]domain.Node
	)
	for i := 0; i < 3; i++ {
		c := &testCircuit{id: "agg", inputs: []domain.Node{domain.FromUint64(uint64(i))}}
		pr, err := b.Prove(context.Background(), c)
		require.NoError(t, err)
		p, err := b.Params(c.id)
		require.NoError(t, err)

		proofs = append(proofs, pr)
		vks = append(vks, p.VK)
		inputs = append(inputs, c.inputs)
	}

	transcript := []byte("statements")
	for _, v := range []abi.RegisteredAggregationProof{abi.RegisteredAggregationProof_SnarkPackV1, abi.RegisteredAggregationProof_SnarkPackV2} {
		agg, err := b.AggregateProofs(v, transcript, proofs)
		require.NoError(t, err)
		require.Len(t, agg.Commitments, 2)
		require.Equal(t, uint64(3), agg.Count)

		ok, err := b.VerifyAggregate(v, transcript, vks, inputs, agg)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = b.VerifyAggregate(v, []byte("other"), vks, inputs, agg)
		require.NoError(t, err)
		require.False(t, ok)
	}

	_, err = b.AggregateProofs(abi.RegisteredAggregationProof_SnarkPackV1, transcript, nil)
	require.Error(t, err)
}

package snark

import (
	"context"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
)

// ProofSize is the size of one groth16 proof: two G1 and one G2 point,
// compressed.
const ProofSize = 192

type Proof []byte

type ProvingKey struct {
	CircuitID string
	Key       [32]byte
}

type VerifyingKey struct {
	CircuitID string
	Key       [32]byte
}

type Params struct {
	CircuitID string
	PK        ProvingKey
	VK        VerifyingKey
}

// Circuit is one proof relation instance. Synthesize checks the relation over
// the private witness the circuit was built with.
type Circuit interface {
	ID() string
	PublicInputs() []domain.Node
	Synthesize() error
}

type Backend interface {
	Params(circuitID string) (*Params, error)
	Prove(ctx context.Context, c Circuit) (Proof, error)
	Verify(vk VerifyingKey, publicInputs []domain.Node, proof Proof) (bool, error)
}

// AggregateProof is a set of proofs folded into one.
type AggregateProof struct {
	Version abi.RegisteredAggregationProof
	// Count is the number of proofs before padding to a power of two.
	Count       uint64
	Commitments [][32]byte
	Folded      [ProofSize]byte
}

// Aggregator is implemented by backends that can fold many proofs into one.
// The transcript binds the aggregate to the statements it covers.
type Aggregator interface {
	AggregateProofs(version abi.RegisteredAggregationProof, transcript []byte, proofs []Proof) (*AggregateProof, error)
	VerifyAggregate(version abi.RegisteredAggregationProof, transcript []byte, vks []VerifyingKey, inputs [][]domain.Node, agg *AggregateProof) (bool, error)
}

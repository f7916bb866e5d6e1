package aggregate

import (
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/porep"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/snark"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var log = logging.Logger("aggregate")

// Proof is an aggregate of many seal proofs. It only verifies under the
// version it was made with.
type Proof struct {
	Version     abi.RegisteredAggregationProof
	Count       uint64
	Commitments [][32]byte
	Folded      [snark.ProofSize]byte
}

// SealInputs are the public inputs of one sector's seal proof, one entry per
// partition.
type SealInputs [][]domain.Node

func aggregator() snark.Aggregator {
	return snark.Default()
}

// GetSealInputs returns the statement a sector's seal proof commits to.
func GetSealInputs(cfg proofcfg.PoRepConfig, commR, commD storiface.Commitment, proverID storiface.ProverID, sectorID abi.SectorNumber, ticket storiface.Ticket, seed storiface.Seed) SealInputs {
	return porep.SealInputs(cfg, commR, commD, proverID, sectorID, ticket, seed)
}

func checkVersion(v abi.RegisteredAggregationProof) error {
	switch v {
	case abi.RegisteredAggregationProof_SnarkPackV1, abi.RegisteredAggregationProof_SnarkPackV2:
		return nil
	default:
		return xerrors.Errorf("unknown aggregation version %d", v)
	}
}

// transcript binds the aggregate to the porep config and to every sector's
// comm_r and seed, in order.
func transcript(cfg proofcfg.PoRepConfig, commRs []storiface.Commitment, seeds []storiface.Seed) []byte {
	out := make([]byte, 0, 32+len(commRs)*64)
	out = append(out, cfg.PoRepID[:]...)
	for i := range commRs {
		out = append(out, commRs[i][:]...)
		out = append(out, seeds[i][:]...)
	}
	return out
}

// AggregateSealProofs folds the partition proofs of every seal proof into one
// aggregate. A count that isn't a power of two is padded by repeating the last
// proof.
func AggregateSealProofs(cfg proofcfg.PoRepConfig, commRs []storiface.Commitment, seeds []storiface.Seed, proofs []porep.SealProof, version abi.RegisteredAggregationProof) (*Proof, error) {
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	if len(proofs) == 0 {
		return nil, xerrors.New("no proofs to aggregate")
	}
	if len(commRs) != len(proofs) || len(seeds) != len(proofs) {
		return nil, xerrors.Errorf("got %d proofs, %d comm_rs and %d seeds", len(proofs), len(commRs), len(seeds))
	}
	start := time.Now()

	parts := make([]snark.Proof, 0, len(proofs)*cfg.Partitions)
	for i, p := range proofs {
		if len(p) != cfg.Partitions*snark.ProofSize {
			return nil, xerrors.Errorf("proof %d is %d bytes, expected %d", i, len(p), cfg.Partitions*snark.ProofSize)
		}
		for k := 0; k < cfg.Partitions; k++ {
			parts = append(parts, snark.Proof(p[k*snark.ProofSize:(k+1)*snark.ProofSize]))
		}
	}

	agg, err := aggregator().AggregateProofs(version, transcript(cfg, commRs, seeds), parts)
	if err != nil {
		return nil, xerrors.Errorf("aggregating: %w", err)
	}

	log.Infow("aggregated seal proofs", "proofs", len(proofs), "version", version, "took", time.Since(start))
	return &Proof{
		Version:     agg.Version,
		Count:       agg.Count,
		Commitments: agg.Commitments,
		Folded:      agg.Folded,
	}, nil
}

// VerifyAggregateSealProofs checks an aggregate against the inputs of every
// sector it covers. An aggregate made under another version is rejected.
func VerifyAggregateSealProofs(cfg proofcfg.PoRepConfig, proof *Proof, commRs []storiface.Commitment, seeds []storiface.Seed, inputs []SealInputs, version abi.RegisteredAggregationProof) (bool, error) {
	if err := checkVersion(version); err != nil {
		return false, err
	}
	if proof == nil || proof.Version != version {
		return false, nil
	}
	if len(inputs) == 0 || len(commRs) != len(inputs) || len(seeds) != len(inputs) {
		return false, nil
	}

	var (
		vks  []snark.VerifyingKey
		flat [][]domain.Node
	)
	be := snark.Default()
	for i, in := range inputs {
		if len(in) != cfg.Partitions {
			return false, xerrors.Errorf("sector %d has inputs for %d partitions, config has %d", i, len(in), cfg.Partitions)
		}
		for k := range in {
			params, err := be.Params(cfg.CircuitID(k))
			if err != nil {
				return false, err
			}
			vks = append(vks, params.VK)
			flat = append(flat, in[k])
		}
	}

	return aggregator().VerifyAggregate(version, transcript(cfg, commRs, seeds), vks, flat, &snark.AggregateProof{
		Version:     proof.Version,
		Count:       proof.Count,
		Commitments: proof.Commitments,
		Folded:      proof.Folded,
	})
}

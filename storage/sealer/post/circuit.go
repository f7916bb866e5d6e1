package post

import (
	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/snark"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// slot is one sector position of a partition. Padding slots repeat the last
// real sector.
type slot struct {
	sector     SectorInfo
	challenges []uint64
	proof      *VanillaProof
}

func publicInputs(cfg proofcfg.PoStConfig, randomness [32]byte, proverID storiface.ProverID, partition int, slots []slot) []domain.Node {
	out := make([]domain.Node, 0, 3+len(slots)*(2+cfg.ChallengeCount))
	out = append(out, domain.Node(proverID), domain.Node(randomness), domain.FromUint64(uint64(partition)))
	for _, s := range slots {
		out = append(out, domain.FromUint64(uint64(s.sector.SectorNumber)), domain.Node(s.sector.CommR))
		for _, c := range s.challenges {
			out = append(out, domain.FromUint64(c))
		}
	}
	return out
}

type postCircuit struct {
	cfg        proofcfg.PoStConfig
	randomness [32]byte
	proverID   storiface.ProverID
	partition  int
	slots      []slot
}

func (c *postCircuit) ID() string {
	return c.cfg.CircuitID(c.partition)
}

func (c *postCircuit) PublicInputs() []domain.Node {
	return publicInputs(c.cfg, c.randomness, c.proverID, c.partition, c.slots)
}

func (c *postCircuit) Synthesize() error {
	if len(c.slots) != c.cfg.SectorCount {
		return xerrors.Errorf("partition has %d slots, need %d", len(c.slots), c.cfg.SectorCount)
	}

	for i, s := range c.slots {
		p := s.proof
		if p == nil {
			return xerrors.Errorf("slot %d: missing vanilla proof", i)
		}
		if p.SectorNumber != s.sector.SectorNumber {
			return xerrors.Errorf("slot %d: proof is for sector %d, not %d", i, p.SectorNumber, s.sector.SectorNumber)
		}

		commR, err := commr.CommR(p.CommC, p.CommRLast)
		if err != nil {
			return err
		}
		if storiface.Commitment(commR) != s.sector.CommR {
			return xerrors.Errorf("slot %d: comm_r mismatch", i)
		}

		if len(p.Challenges) != len(s.challenges) || len(p.Inclusions) != len(s.challenges) {
			return xerrors.Errorf("slot %d: proof covers %d challenges, need %d", i, len(p.Challenges), len(s.challenges))
		}
		for j, ch := range s.challenges {
			if p.Challenges[j] != ch {
				return xerrors.Errorf("slot %d: challenge %d is %d, expected %d", i, j, p.Challenges[j], ch)
			}

			inc := p.Inclusions[j]
			if inc == nil || inc.Root != p.CommRLast {
				return xerrors.Errorf("slot %d: inclusion %d is not against comm_r_last", i, j)
			}
			ok, err := inc.VerifyAt(merkle.Poseidon, ch)
			if err != nil {
				return err
			}
			if !ok {
				return xerrors.Errorf("slot %d: inclusion of leaf %d does not verify", i, ch)
			}
		}
	}
	return nil
}

func backend() snark.Backend {
	return snark.Default()
}

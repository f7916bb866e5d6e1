package post

import (
	"context"
	"time"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
	prooftypes "github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/storage/sealer/challenges"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// GenerateWinningPoStSectorChallenge picks which of the eligible sectors a
// winning post has to cover, as indices into the eligible set.
func GenerateWinningPoStSectorChallenge(cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, proverID storiface.ProverID, eligibleCount uint64) ([]uint64, error) {
	if cfg.Type != proofcfg.WinningPoSt {
		return nil, xerrors.Errorf("expected a winning post config, got %s", cfg.Type)
	}
	r, err := challengeSeed(randomness)
	if err != nil {
		return nil, err
	}
	return challenges.WinningSectorChallenge(r, proverID, eligibleCount, uint64(cfg.SectorCount))
}

func GenerateWinningPoSt(ctx context.Context, cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, replicas []PrivateSectorInfo, proverID storiface.ProverID) ([]prooftypes.PoStProof, error) {
	return defaultProver.GenerateWinningPoSt(ctx, cfg, randomness, replicas, proverID)
}

// GenerateWinningPoSt proves the sectors chosen by the sector challenge in a
// single partition.
func (p *Prover) GenerateWinningPoSt(ctx context.Context, cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, replicas []PrivateSectorInfo, proverID storiface.ProverID) ([]prooftypes.PoStProof, error) {
	if cfg.Type != proofcfg.WinningPoSt {
		return nil, xerrors.Errorf("expected a winning post config, got %s", cfg.Type)
	}
	if len(replicas) != cfg.SectorCount {
		return nil, xerrors.Errorf("winning post covers %d sectors, got %d", cfg.SectorCount, len(replicas))
	}
	start := time.Now()

	vanilla, err := p.GenerateVanillaProofs(ctx, cfg, randomness, replicas)
	if err != nil {
		return nil, err
	}

	part, err := GenerateSingleWindowPoStWithVanilla(ctx, cfg, randomness, proverID, vanilla, 0)
	if err != nil {
		return nil, err
	}

	log.Infow("winning post done", "sectors", len(replicas), "took", time.Since(start))
	return []prooftypes.PoStProof{{PoStProof: cfg.Proof, ProofBytes: part.Proof}}, nil
}

func VerifyWinningPoSt(cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, sectors []SectorInfo, proverID storiface.ProverID, proofs []prooftypes.PoStProof) (bool, error) {
	if cfg.Type != proofcfg.WinningPoSt {
		return false, xerrors.Errorf("expected a winning post config, got %s", cfg.Type)
	}
	if len(sectors) != cfg.SectorCount {
		return false, nil
	}
	return verify(cfg, randomness, sectors, proverID, proofs)
}

package ffiwrapper

import (
	"context"
	"errors"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/metrics"
	"github.com/filecoin-project/sector-proofs/storage/sealer/aggregate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/porep"
	"github.com/filecoin-project/sector-proofs/storage/sealer/post"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
	"github.com/filecoin-project/sector-proofs/storage/sealer/update"
)

func (sb *Sealer) VerifySeal(info proof.SealVerifyInfo) (bool, error) {
	cfg, err := proofcfg.NewPoRepConfig(info.SealProof, sb.apiVersion)
	if err != nil {
		return false, err
	}
	prover, err := storiface.ToProverID(info.Miner)
	if err != nil {
		return false, err
	}

	commR, err := storiface.ReplicaCommitment(info.SealedCID)
	if err != nil {
		return false, err
	}
	commD, err := storiface.DataCommitment(info.UnsealedCID)
	if err != nil {
		return false, err
	}
	ticket, err := storiface.TicketFromRandomness(info.Randomness)
	if err != nil {
		return false, err
	}
	seed, err := storiface.SeedFromRandomness(info.InteractiveRandomness)
	if err != nil {
		return false, err
	}

	return porep.VerifySeal(cfg, commR, commD, prover, info.Number, ticket, seed, info.Proof)
}

// sealInputs gathers the per-sector statements of an aggregate.
func (sb *Sealer) sealInputs(cfg proofcfg.PoRepConfig, miner abi.ActorID, infos []proof.AggregateSealVerifyInfo) ([]storiface.Commitment, []storiface.Seed, []aggregate.SealInputs, error) {
	prover, err := storiface.ToProverID(miner)
	if err != nil {
		return nil, nil, nil, err
	}

	commRs := make([]storiface.Commitment, len(infos))
	seeds := make([]storiface.Seed, len(infos))
	inputs := make([]aggregate.SealInputs, len(infos))
	for i, info := range infos {
		if commRs[i], err = storiface.ReplicaCommitment(info.SealedCID); err != nil {
			return nil, nil, nil, xerrors.Errorf("sector %d: %w", info.Number, err)
		}
		commD, err := storiface.DataCommitment(info.UnsealedCID)
		if err != nil {
			return nil, nil, nil, xerrors.Errorf("sector %d: %w", info.Number, err)
		}
		ticket, err := storiface.TicketFromRandomness(info.Randomness)
		if err != nil {
			return nil, nil, nil, xerrors.Errorf("sector %d: %w", info.Number, err)
		}
		if seeds[i], err = storiface.SeedFromRandomness(info.InteractiveRandomness); err != nil {
			return nil, nil, nil, xerrors.Errorf("sector %d: %w", info.Number, err)
		}
		inputs[i] = aggregate.GetSealInputs(cfg, commRs[i], commD, prover, info.Number, ticket, seeds[i])
	}
	return commRs, seeds, inputs, nil
}

// AggregateSealProofs folds the seal proofs of the sectors in aggregateInfo,
// given in the same order, into one encoded aggregate.
func (sb *Sealer) AggregateSealProofs(aggregateInfo proof.AggregateSealVerifyProofAndInfos, proofs [][]byte) ([]byte, error) {
	if len(proofs) != len(aggregateInfo.Infos) {
		return nil, xerrors.Errorf("got %d proofs for %d sectors", len(proofs), len(aggregateInfo.Infos))
	}

	cfg, err := proofcfg.NewPoRepConfig(aggregateInfo.SealProof, sb.apiVersion)
	if err != nil {
		return nil, err
	}
	commRs, seeds, _, err := sb.sealInputs(cfg, aggregateInfo.Miner, aggregateInfo.Infos)
	if err != nil {
		return nil, err
	}

	sps := make([]porep.SealProof, len(proofs))
	for i, p := range proofs {
		sps[i] = p
	}

	ctx, _ := tag.New(context.Background(), tag.Upsert(metrics.AggVersion, aggVersionName(aggregateInfo.AggregateProof)))
	stop := metrics.Timer(ctx, metrics.AggregateDuration)
	agg, err := aggregate.AggregateSealProofs(cfg, commRs, seeds, sps, aggregateInfo.AggregateProof)
	stop()
	if err != nil {
		return nil, err
	}
	stats.Record(ctx, metrics.AggregateProofs.M(int64(len(proofs))))

	return agg.MarshalBinary()
}

// VerifyAggregateSeals is false for an aggregate made under another version.
func (sb *Sealer) VerifyAggregateSeals(aggregateInfo proof.AggregateSealVerifyProofAndInfos) (bool, error) {
	cfg, err := proofcfg.NewPoRepConfig(aggregateInfo.SealProof, sb.apiVersion)
	if err != nil {
		return false, err
	}

	agg, err := aggregate.DecodeProof(aggregateInfo.Proof, aggregateInfo.AggregateProof)
	if errors.Is(err, storiface.ErrAggregationVersionMismatch) {
		log.Debugw("aggregate version mismatch", "miner", aggregateInfo.Miner, "error", err)
		return false, nil
	}
	if err != nil {
		return false, xerrors.Errorf("decoding aggregate: %w", err)
	}

	commRs, seeds, inputs, err := sb.sealInputs(cfg, aggregateInfo.Miner, aggregateInfo.Infos)
	if err != nil {
		return false, err
	}
	return aggregate.VerifyAggregateSealProofs(cfg, agg, commRs, seeds, inputs, aggregateInfo.AggregateProof)
}

func (sb *Sealer) VerifyReplicaUpdate(info proof.ReplicaUpdateInfo) (bool, error) {
	cfg, err := updateConfig(info.UpdateProofType)
	if err != nil {
		return false, err
	}

	commROld, err := storiface.ReplicaCommitment(info.OldSealedSectorCID)
	if err != nil {
		return false, err
	}
	commRNew, err := storiface.ReplicaCommitment(info.NewSealedSectorCID)
	if err != nil {
		return false, err
	}
	commDNew, err := storiface.DataCommitment(info.NewUnsealedSectorCID)
	if err != nil {
		return false, err
	}

	return update.VerifyEmptySectorUpdateProof(cfg, info.Proof, commROld, commRNew, commDNew)
}

func (sb *Sealer) VerifyWinningPoSt(ctx context.Context, info proof.WinningPoStVerifyInfo) (bool, error) {
	return sb.verifyPoSt(info.Prover, info.Randomness, info.ChallengedSectors, info.Proofs, proofcfg.WinningPoSt)
}

func (sb *Sealer) VerifyWindowPoSt(ctx context.Context, info proof.WindowPoStVerifyInfo) (bool, error) {
	return sb.verifyPoSt(info.Prover, info.Randomness, info.ChallengedSectors, info.Proofs, proofcfg.WindowPoSt)
}

func (sb *Sealer) verifyPoSt(miner abi.ActorID, randomness abi.PoStRandomness, challenged []proof.SectorInfo, proofs []proof.PoStProof, typ proofcfg.PoStType) (bool, error) {
	if len(proofs) != 1 {
		return false, xerrors.Errorf("expected 1 proof, got %d", len(proofs))
	}

	cfg, err := proofcfg.PoStConfigFor(proofs[0].PoStProof, sb.apiVersion)
	if err != nil {
		return false, err
	}
	if cfg.Type != typ {
		return false, xerrors.Errorf("expected a %s post proof, got %s", typ, cfg.Type)
	}
	prover, err := storiface.ToProverID(miner)
	if err != nil {
		return false, err
	}

	sectors := make([]post.SectorInfo, len(challenged))
	for i, s := range challenged {
		commR, err := storiface.ReplicaCommitment(s.SealedCID)
		if err != nil {
			return false, xerrors.Errorf("sector %d: %w", s.SectorNumber, err)
		}
		sectors[i] = post.SectorInfo{SectorNumber: s.SectorNumber, CommR: commR}
	}

	if typ == proofcfg.WinningPoSt {
		return post.VerifyWinningPoSt(cfg, randomness, sectors, prover, proofs)
	}
	return post.VerifyWindowPoSt(cfg, randomness, sectors, prover, proofs)
}

func (sb *Sealer) GenerateWinningPoStSectorChallenge(ctx context.Context, proofType abi.RegisteredPoStProof, minerID abi.ActorID, randomness abi.PoStRandomness, eligibleSectorCount uint64) ([]uint64, error) {
	cfg, err := proofcfg.PoStConfigFor(proofType, sb.apiVersion)
	if err != nil {
		return nil, err
	}
	prover, err := storiface.ToProverID(minerID)
	if err != nil {
		return nil, err
	}
	return post.GenerateWinningPoStSectorChallenge(cfg, randomness, prover, eligibleSectorCount)
}

func aggVersionName(v abi.RegisteredAggregationProof) string {
	switch v {
	case abi.RegisteredAggregationProof_SnarkPackV1:
		return "v1"
	case abi.RegisteredAggregationProof_SnarkPackV2:
		return "v2"
	default:
		return "unknown"
	}
}

package ffiwrapper

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/metrics"
	"github.com/filecoin-project/sector-proofs/storage/sealer/post"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func (sb *Sealer) GenerateWinningPoSt(ctx context.Context, minerID abi.ActorID, sectorInfo []proof.SectorInfo, randomness abi.PoStRandomness) ([]proof.PoStProof, error) {
	cfg, prover, err := sb.postConfig(minerID, sectorInfo, proofcfg.WinningPoSt)
	if err != nil {
		return nil, err
	}

	ctx, stop := postTimer(ctx, cfg)
	defer stop()

	privsectors, skipped, done, err := sb.pubSectorToPriv(ctx, minerID, sectorInfo, nil)
	if err != nil {
		return nil, err
	}
	defer done()
	if len(skipped) > 0 {
		return nil, xerrors.Errorf("pubSectorToPriv skipped sectors: %+v", skipped)
	}

	return sb.prover.GenerateWinningPoSt(ctx, cfg, randomness, privsectors, prover)
}

func (sb *Sealer) GenerateWindowPoSt(ctx context.Context, minerID abi.ActorID, sectorInfo []proof.SectorInfo, randomness abi.PoStRandomness) ([]proof.PoStProof, []abi.SectorID, error) {
	cfg, prover, err := sb.postConfig(minerID, sectorInfo, proofcfg.WindowPoSt)
	if err != nil {
		return nil, nil, err
	}

	ctx, stop := postTimer(ctx, cfg)
	defer stop()

	privsectors, skipped, done, err := sb.pubSectorToPriv(ctx, minerID, sectorInfo, nil)
	if err != nil {
		return nil, nil, xerrors.Errorf("gathering sector info: %w", err)
	}
	defer done()

	// sectors failing their vanilla proofs are dropped and the rest proven
	// again until a proof succeeds
	for len(privsectors) > 0 {
		proofs, err := sb.prover.GenerateWindowPoSt(ctx, cfg, randomness, privsectors, prover)
		faulty, isFaulty := storiface.IsFaultySectors(err)
		if !isFaulty {
			if len(skipped) > 0 {
				stats.Record(ctx, metrics.PoStFaultySectors.M(int64(len(skipped))))
			}
			return proofs, skipped, err
		}

		log.Warnw("skipping faulty sectors", "miner", minerID, "faulty", faulty)
		bad := map[abi.SectorNumber]struct{}{}
		for _, n := range faulty {
			bad[n] = struct{}{}
			skipped = append(skipped, abi.SectorID{Miner: minerID, Number: n})
		}

		remaining := privsectors[:0]
		for _, s := range privsectors {
			if _, ok := bad[s.SectorNumber]; !ok {
				remaining = append(remaining, s)
			}
		}
		privsectors = remaining
	}

	stats.Record(ctx, metrics.PoStFaultySectors.M(int64(len(skipped))))
	return nil, skipped, xerrors.Errorf("all %d sectors are faulty: %w", len(skipped), storiface.ErrFaultySectors)
}

func (sb *Sealer) postConfig(minerID abi.ActorID, sectorInfo []proof.SectorInfo, typ proofcfg.PoStType) (proofcfg.PoStConfig, storiface.ProverID, error) {
	if len(sectorInfo) == 0 {
		return proofcfg.PoStConfig{}, storiface.ProverID{}, xerrors.New("must provide sectors for post")
	}

	spt := sectorInfo[0].SealProof
	for _, s := range sectorInfo[1:] {
		if s.SealProof != spt {
			return proofcfg.PoStConfig{}, storiface.ProverID{}, xerrors.Errorf("sector %d has proof type %d, expected %d", s.SectorNumber, s.SealProof, spt)
		}
	}

	pp, err := proofcfg.RegisteredPoStProof(spt, typ)
	if err != nil {
		return proofcfg.PoStConfig{}, storiface.ProverID{}, xerrors.Errorf("acquiring registered PoSt proof from sector info %+v: %w", sectorInfo[0], err)
	}

	cfg, err := proofcfg.PoStConfigFor(pp, sb.apiVersion)
	if err != nil {
		return proofcfg.PoStConfig{}, storiface.ProverID{}, err
	}
	prover, err := storiface.ToProverID(minerID)
	if err != nil {
		return proofcfg.PoStConfig{}, storiface.ProverID{}, err
	}
	return cfg, prover, nil
}

func postTimer(ctx context.Context, cfg proofcfg.PoStConfig) (context.Context, func()) {
	ctx, _ = tag.New(ctx,
		tag.Upsert(metrics.PoStType, cfg.Type.String()),
		tag.Upsert(metrics.SectorSize, cfg.SectorSize.ShortString()),
	)
	stop := metrics.Timer(ctx, metrics.PoStDuration)
	return ctx, func() { _ = stop() }
}

// pubSectorToPriv locates the replica of every sector. Updated sectors are
// proven from their update replica. Sectors whose files can't be found are
// skipped; faults lists sectors already known to be faulty.
func (sb *Sealer) pubSectorToPriv(ctx context.Context, mid abi.ActorID, sectorInfo []proof.SectorInfo, faults []abi.SectorNumber) ([]post.PrivateSectorInfo, []abi.SectorID, func(), error) {
	fmap := map[abi.SectorNumber]struct{}{}
	for _, fault := range faults {
		fmap[fault] = struct{}{}
	}

	var doneFuncs []func()
	done := func() {
		for _, df := range doneFuncs {
			df()
		}
	}

	var skipped []abi.SectorID
	var out []post.PrivateSectorInfo
	for _, s := range sectorInfo {
		sid := abi.SectorID{Miner: mid, Number: s.SectorNumber}
		if _, faulty := fmap[s.SectorNumber]; faulty {
			skipped = append(skipped, sid)
			continue
		}

		commR, err := storiface.ReplicaCommitment(s.SealedCID)
		if err != nil {
			done()
			return nil, nil, nil, xerrors.Errorf("sector %d: %w", s.SectorNumber, err)
		}

		sealed, cache, d, err := sb.replicaPaths(ctx, storiface.SectorRef{ID: sid, ProofType: s.SealProof})
		if err != nil {
			log.Warnw("failed to acquire sector, skipping", "sector", sid, "error", err)
			skipped = append(skipped, sid)
			continue
		}
		doneFuncs = append(doneFuncs, d)

		out = append(out, post.PrivateSectorInfo{
			SectorInfo: post.SectorInfo{SectorNumber: s.SectorNumber, CommR: commR},
			CacheDir:   cache,
			SealedPath: sealed,
		})
	}

	return out, skipped, done, nil
}

// replicaPaths returns the live replica of a sector, preferring an update
// replica over the sealed one.
func (sb *Sealer) replicaPaths(ctx context.Context, sector storiface.SectorRef) (string, string, func(), error) {
	paths, d, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTUpdate|storiface.FTUpdateCache, storiface.FTNone)
	if err == nil {
		return paths.Update, paths.UpdateCache, d, nil
	}

	paths, d, err = sb.sectors.AcquireSector(ctx, sector, storiface.FTSealed|storiface.FTCache, storiface.FTNone)
	if err != nil {
		return "", "", nil, xerrors.Errorf("acquire sector paths: %w", err)
	}
	return paths.Sealed, paths.Cache, d, nil
}

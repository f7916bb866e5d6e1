package ffiwrapper

import (
	"context"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/metrics"
	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
	"github.com/filecoin-project/sector-proofs/storage/sealer/update"
)

func updateConfig(rup abi.RegisteredUpdateProof) (proofcfg.SectorUpdateConfig, error) {
	var ss abi.SectorSize
	switch rup {
	case abi.RegisteredUpdateProof_StackedDrg2KiBV1:
		ss = 2 << 10
	case abi.RegisteredUpdateProof_StackedDrg8MiBV1:
		ss = 8 << 20
	case abi.RegisteredUpdateProof_StackedDrg512MiBV1:
		ss = 512 << 20
	case abi.RegisteredUpdateProof_StackedDrg32GiBV1:
		ss = 32 << 30
	case abi.RegisteredUpdateProof_StackedDrg64GiBV1:
		ss = 64 << 30
	default:
		return proofcfg.SectorUpdateConfig{}, xerrors.Errorf("unsupported update proof type %d", rup)
	}
	return proofcfg.SectorUpdateConfigFor(ss)
}

func sectorUpdateConfig(sector storiface.SectorRef) (proofcfg.SectorUpdateConfig, error) {
	ss, err := sector.ProofType.SectorSize()
	if err != nil {
		return proofcfg.SectorUpdateConfig{}, err
	}
	return proofcfg.SectorUpdateConfigFor(ss)
}

// updateCommitments decodes the cids naming an update.
func updateCommitments(sectorKey, newSealed, newUnsealed cid.Cid) (commROld, commRNew, commDNew storiface.Commitment, err error) {
	if commROld, err = storiface.ReplicaCommitment(sectorKey); err != nil {
		return
	}
	if commRNew, err = storiface.ReplicaCommitment(newSealed); err != nil {
		return
	}
	commDNew, err = storiface.DataCommitment(newUnsealed)
	return
}

// checkSectorKey requires the sealed cache of a sector to describe sectorKey.
func checkSectorKey(cacheDir string, sectorKey cid.Cid) error {
	want, err := storiface.ReplicaCommitment(sectorKey)
	if err != nil {
		return err
	}
	paux, err := sectorcache.ReadPAux(cacheDir)
	if err != nil {
		return err
	}
	have, err := commr.CommR(paux.CommC, paux.CommRLast)
	if err != nil {
		return err
	}
	if storiface.Commitment(have) != want {
		return xerrors.Errorf("sector key cache has comm_r %s, expected %s: %w", storiface.Commitment(have), want, storiface.ErrInvalidCache)
	}
	return nil
}

// ReplicaUpdate encodes the sector's unsealed data onto its sealed sector
// key. The sealed file and cache are left as they are.
func (sb *Sealer) ReplicaUpdate(ctx context.Context, sector storiface.SectorRef, sectorKey cid.Cid, pieces []abi.PieceInfo) (_ storiface.ReplicaUpdateOut, err error) {
	cfg, err := sectorUpdateConfig(sector)
	if err != nil {
		return storiface.ReplicaUpdateOut{}, err
	}

	ctx, done := phase(ctx, "RU", cfg.SectorSize, metrics.UpdatePhaseDuration)
	defer func() {
		done(err)
		sb.trackErr(ctx, sector, err)
	}()

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTUnsealed|storiface.FTSealed|storiface.FTCache, storiface.FTUpdate|storiface.FTUpdateCache)
	if err != nil {
		return storiface.ReplicaUpdateOut{}, xerrors.Errorf("failed to acquire sector paths: %w", err)
	}
	defer release()

	if err := checkSectorKey(paths.Cache, sectorKey); err != nil {
		return storiface.ReplicaUpdateOut{}, err
	}

	out, err := update.EncodeInto(ctx, cfg, paths.Update, paths.UpdateCache, paths.Sealed, paths.Cache, paths.Unsealed, pieces)
	if err != nil {
		return storiface.ReplicaUpdateOut{}, xerrors.Errorf("failed to update existing sector: %w", err)
	}

	cids, err := storiface.ToCids(out.CommDNew, out.CommRNew)
	if err != nil {
		return storiface.ReplicaUpdateOut{}, err
	}

	sb.track(ctx, sector, sectorstate.EvReplicaUpdate{CommRNew: out.CommRNew, CommDNew: out.CommDNew, Pieces: pieces})
	return storiface.ReplicaUpdateOut{NewSealed: cids.Sealed, NewUnsealed: cids.Unsealed}, nil
}

func (sb *Sealer) ProveReplicaUpdate1(ctx context.Context, sector storiface.SectorRef, sectorKey, newSealed, newUnsealed cid.Cid) (_ storiface.ReplicaVanillaProofs, err error) {
	cfg, err := sectorUpdateConfig(sector)
	if err != nil {
		return nil, err
	}
	commROld, commRNew, commDNew, err := updateCommitments(sectorKey, newSealed, newUnsealed)
	if err != nil {
		return nil, err
	}

	ctx, done := phase(ctx, "PR1", cfg.SectorSize, metrics.UpdatePhaseDuration)
	defer func() { done(err) }()

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTSealed|storiface.FTCache|storiface.FTUpdate|storiface.FTUpdateCache, storiface.FTNone)
	if err != nil {
		return nil, xerrors.Errorf("failed to acquire sector paths: %w", err)
	}
	defer release()

	vanilla, err := update.GeneratePartitionProofs(cfg, commROld, commRNew, commDNew,
		update.Replica{Path: paths.Sealed, CacheDir: paths.Cache},
		update.Replica{Path: paths.Update, CacheDir: paths.UpdateCache})
	if err != nil {
		return nil, xerrors.Errorf("generating partition proofs: %w", err)
	}

	out := make(storiface.ReplicaVanillaProofs, len(vanilla))
	for i, p := range vanilla {
		if out[i], err = p.Marshal(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (sb *Sealer) ProveReplicaUpdate2(ctx context.Context, sector storiface.SectorRef, sectorKey, newSealed, newUnsealed cid.Cid, vanillaProofs storiface.ReplicaVanillaProofs) (_ storiface.ReplicaUpdateProof, err error) {
	cfg, err := sectorUpdateConfig(sector)
	if err != nil {
		return nil, err
	}
	commROld, commRNew, commDNew, err := updateCommitments(sectorKey, newSealed, newUnsealed)
	if err != nil {
		return nil, err
	}

	ctx, done := phase(ctx, "PR2", cfg.SectorSize, metrics.UpdatePhaseDuration)
	defer func() {
		done(err)
		sb.trackErr(ctx, sector, err)
	}()

	vanilla := make([]*update.PartitionProof, len(vanillaProofs))
	for i, b := range vanillaProofs {
		if vanilla[i], err = update.UnmarshalPartitionProof(b); err != nil {
			return nil, xerrors.Errorf("partition proof %d: %w", i, err)
		}
	}

	proof, err := update.GenerateEmptySectorUpdateProofWithVanilla(ctx, cfg, vanilla, commROld, commRNew, commDNew)
	if err != nil {
		return nil, xerrors.Errorf("computing update proof: %w", err)
	}

	sb.track(ctx, sector, sectorstate.EvReplicaUpdateProven{Proof: proof})
	return storiface.ReplicaUpdateProof(proof), nil
}

// GenerateSectorKeyFromData rebuilds the sealed sector key of an updated
// sector from its update replica and unsealed data.
func (sb *Sealer) GenerateSectorKeyFromData(ctx context.Context, sector storiface.SectorRef, commD cid.Cid) (err error) {
	cfg, err := sectorUpdateConfig(sector)
	if err != nil {
		return err
	}
	commDNew, err := storiface.DataCommitment(commD)
	if err != nil {
		return err
	}

	ctx, done := phase(ctx, "GSK", cfg.SectorSize, metrics.UpdatePhaseDuration)
	defer func() { done(err) }()

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTUnsealed|storiface.FTCache|storiface.FTUpdate|storiface.FTUpdateCache, storiface.FTSealed)
	if err != nil {
		return xerrors.Errorf("failed to acquire sector paths: %w", err)
	}
	defer release()

	commROld, err := update.RemoveEncodedData(ctx, cfg, paths.Sealed, paths.Cache, paths.Update, paths.UpdateCache, paths.Unsealed, commDNew)
	if err != nil {
		return xerrors.Errorf("failed to recover sector key: %w", err)
	}

	log.Infow("regenerated sector key", "sector", sector.ID, "commR", commROld)
	return nil
}

// DecodeReplicaUpdate writes the data of an updated sector back to its
// unsealed file.
func (sb *Sealer) DecodeReplicaUpdate(ctx context.Context, sector storiface.SectorRef, newUnsealed cid.Cid) (err error) {
	cfg, err := sectorUpdateConfig(sector)
	if err != nil {
		return err
	}
	commDNew, err := storiface.DataCommitment(newUnsealed)
	if err != nil {
		return err
	}

	ctx, done := phase(ctx, "DRU", cfg.SectorSize, metrics.UpdatePhaseDuration)
	defer func() { done(err) }()

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTSealed|storiface.FTCache|storiface.FTUpdate, storiface.FTUnsealed)
	if err != nil {
		return xerrors.Errorf("failed to acquire sector paths: %w", err)
	}
	defer release()

	if err := update.DecodeFrom(ctx, cfg, paths.Unsealed, paths.Update, paths.Sealed, paths.Cache, commDNew); err != nil {
		return xerrors.Errorf("decoding replica update: %w", err)
	}
	return nil
}

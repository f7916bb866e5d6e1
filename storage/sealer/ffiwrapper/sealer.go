package ffiwrapper

import (
	"context"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/lib/nullreader"
	"github.com/filecoin-project/sector-proofs/metrics"
	"github.com/filecoin-project/sector-proofs/storage/sealer/porep"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var _ storiface.Storage = &Sealer{}

func (sb *Sealer) AddPiece(ctx context.Context, sector storiface.SectorRef, existingPieceSizes []abi.UnpaddedPieceSize, pieceSize abi.UnpaddedPieceSize, pieceData storiface.Data) (_ abi.PieceInfo, err error) {
	ssize, err := sector.ProofType.SectorSize()
	if err != nil {
		return abi.PieceInfo{}, err
	}

	ctx, done := phase(ctx, "AP", ssize, metrics.SealPhaseDuration)
	defer func() { done(err) }()

	var offset abi.UnpaddedPieceSize
	for _, size := range existingPieceSizes {
		offset += size
	}

	existing, allocate := storiface.FTUnsealed, storiface.FTNone
	if len(existingPieceSizes) == 0 {
		existing, allocate = storiface.FTNone, storiface.FTUnsealed
	}

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, existing, allocate)
	if err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("acquire unsealed sector: %w", err)
	}
	defer release()

	flags := os.O_WRONLY | os.O_CREATE
	if len(existingPieceSizes) == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(paths.Unsealed, flags, 0644) // nolint:gosec
	if err != nil {
		return abi.PieceInfo{}, storiface.NewIoError("open", paths.Unsealed, err)
	}

	if _, err := f.Seek(int64(offset.Padded()), io.SeekStart); err != nil {
		_ = f.Close()
		return abi.PieceInfo{}, storiface.NewIoError("seek", paths.Unsealed, err)
	}

	pi, err := porep.AddPiece(ctx, ssize, existingPieceSizes, pieceData, pieceSize, f)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = storiface.NewIoError("close", paths.Unsealed, cerr)
	}
	if err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("add piece: %w", err)
	}

	log.Infow("added piece", "sector", sector.ID, "offset", offset, "size", pieceSize, "cid", pi.PieceCID)
	return pi, nil
}

// AddCommittedCapacity fills the whole sector with a zero piece.
func (sb *Sealer) AddCommittedCapacity(ctx context.Context, sector storiface.SectorRef) (abi.PieceInfo, error) {
	ssize, err := sector.ProofType.SectorSize()
	if err != nil {
		return abi.PieceInfo{}, err
	}
	size := abi.PaddedPieceSize(ssize).Unpadded()
	return sb.AddPiece(ctx, sector, nil, size, nullreader.NewNullReader(int64(size)))
}

func (sb *Sealer) SealPreCommit1(ctx context.Context, sector storiface.SectorRef, ticket abi.SealRandomness, pieces []abi.PieceInfo) (out storiface.PreCommit1Out, err error) {
	cfg, prover, err := sb.porepConfig(sector)
	if err != nil {
		return nil, err
	}
	t, err := storiface.TicketFromRandomness(ticket)
	if err != nil {
		return nil, err
	}

	ctx, done := phase(ctx, "PC1", cfg.SectorSize, metrics.SealPhaseDuration)
	defer func() {
		done(err)
		sb.trackErr(ctx, sector, err)
	}()

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTUnsealed, storiface.FTSealed|storiface.FTCache)
	if err != nil {
		return nil, xerrors.Errorf("acquiring sector paths: %w", err)
	}
	defer release()

	p1, err := porep.SealPreCommitPhase1(ctx, cfg, paths.Cache, paths.Unsealed, paths.Sealed, prover, sector.ID.Number, t, pieces)
	if err != nil {
		return nil, xerrors.Errorf("presealing sector %d (%s): %w", sector.ID.Number, paths.Unsealed, err)
	}

	out, err = p1.Marshal()
	if err != nil {
		return nil, err
	}

	sb.track(ctx, sector, sectorstate.EvPreCommit1{Ticket: t, Out: out})
	return out, nil
}

func (sb *Sealer) SealPreCommit2(ctx context.Context, sector storiface.SectorRef, phase1Out storiface.PreCommit1Out) (_ storiface.SectorCids, err error) {
	cfg, _, err := sb.porepConfig(sector)
	if err != nil {
		return storiface.SectorCids{}, err
	}

	ctx, done := phase(ctx, "PC2", cfg.SectorSize, metrics.SealPhaseDuration)
	defer func() {
		done(err)
		sb.trackErr(ctx, sector, err)
	}()

	p1, err := porep.UnmarshalPreCommit1Out(phase1Out)
	if err != nil {
		return storiface.SectorCids{}, err
	}

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTSealed|storiface.FTCache, storiface.FTNone)
	if err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("acquiring sector paths: %w", err)
	}
	defer release()

	pre, err := porep.SealPreCommitPhase2(ctx, cfg, p1, paths.Cache, paths.Sealed)
	if err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("presealing sector %d (%s): %w", sector.ID.Number, paths.Sealed, err)
	}

	cids, err := storiface.ToCids(pre.CommD, pre.CommR)
	if err != nil {
		return storiface.SectorCids{}, err
	}

	sb.track(ctx, sector, sectorstate.EvPreCommit2{CommD: pre.CommD, CommR: pre.CommR})
	return cids, nil
}

func (sb *Sealer) SealCommit1(ctx context.Context, sector storiface.SectorRef, ticket abi.SealRandomness, seed abi.InteractiveSealRandomness, pieces []abi.PieceInfo, cids storiface.SectorCids) (_ storiface.Commit1Out, err error) {
	cfg, prover, err := sb.porepConfig(sector)
	if err != nil {
		return nil, err
	}
	t, err := storiface.TicketFromRandomness(ticket)
	if err != nil {
		return nil, err
	}
	s, err := storiface.SeedFromRandomness(seed)
	if err != nil {
		return nil, err
	}

	var pre porep.PreCommitOutput
	if pre.CommR, err = storiface.ReplicaCommitment(cids.Sealed); err != nil {
		return nil, err
	}
	if pre.CommD, err = storiface.DataCommitment(cids.Unsealed); err != nil {
		return nil, err
	}

	ctx, done := phase(ctx, "C1", cfg.SectorSize, metrics.SealPhaseDuration)
	defer func() {
		done(err)
		sb.trackErr(ctx, sector, err)
	}()

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTSealed|storiface.FTCache, storiface.FTNone)
	if err != nil {
		return nil, xerrors.Errorf("acquire sector paths: %w", err)
	}
	defer release()

	c1, err := porep.SealCommitPhase1(ctx, cfg, paths.Cache, paths.Sealed, prover, sector.ID.Number, t, s, pre, pieces)
	if err != nil {
		return nil, xerrors.Errorf("StandaloneSealCommit: %w", err)
	}

	out, err := c1.Marshal()
	if err != nil {
		return nil, err
	}

	sb.track(ctx, sector, sectorstate.EvCommit1{Seed: s})
	return out, nil
}

func (sb *Sealer) SealCommit2(ctx context.Context, sector storiface.SectorRef, phase1Out storiface.Commit1Out) (_ storiface.Proof, err error) {
	cfg, prover, err := sb.porepConfig(sector)
	if err != nil {
		return nil, err
	}

	ctx, done := phase(ctx, "C2", cfg.SectorSize, metrics.SealPhaseDuration)
	defer func() {
		done(err)
		sb.trackErr(ctx, sector, err)
	}()

	c1, err := porep.UnmarshalCommit1Out(phase1Out)
	if err != nil {
		return nil, err
	}

	proof, err := porep.SealCommitPhase2(ctx, cfg, c1, prover, sector.ID.Number)
	if err != nil {
		return nil, xerrors.Errorf("computing seal proof: %w", err)
	}

	sb.track(ctx, sector, sectorstate.EvCommit2{Proof: proof})
	return storiface.Proof(proof), nil
}

func (sb *Sealer) FinalizeSector(ctx context.Context, sector storiface.SectorRef) error {
	cfg, _, err := sb.porepConfig(sector)
	if err != nil {
		return err
	}

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTCache, storiface.FTNone)
	if err != nil {
		return xerrors.Errorf("acquiring sector cache path: %w", err)
	}
	defer release()

	if err := porep.Finalize(cfg, paths.Cache); err != nil {
		return xerrors.Errorf("clearing cache: %w", err)
	}

	sb.track(ctx, sector, sectorstate.EvFinalized{})
	return nil
}

// ReleaseUnsealed drops the unsealed copy of a sector.
func (sb *Sealer) ReleaseUnsealed(ctx context.Context, sector storiface.SectorRef) error {
	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTUnsealed, storiface.FTNone)
	if err != nil {
		return xerrors.Errorf("acquiring unsealed sector: %w", err)
	}
	defer release()

	if err := os.Remove(paths.Unsealed); err != nil {
		return storiface.NewIoError("remove", paths.Unsealed, err)
	}
	return nil
}

func (sb *Sealer) UnsealPiece(ctx context.Context, sector storiface.SectorRef, offset storiface.UnpaddedByteIndex, size abi.UnpaddedPieceSize, randomness abi.SealRandomness, commd cid.Cid, out io.Writer) (err error) {
	cfg, prover, err := sb.porepConfig(sector)
	if err != nil {
		return err
	}
	t, err := storiface.TicketFromRandomness(randomness)
	if err != nil {
		return err
	}
	commD, err := storiface.DataCommitment(commd)
	if err != nil {
		return err
	}

	ctx, done := phase(ctx, "UNS", cfg.SectorSize, metrics.SealPhaseDuration)
	defer func() { done(err) }()

	paths, release, err := sb.sectors.AcquireSector(ctx, sector, storiface.FTSealed|storiface.FTCache, storiface.FTNone)
	if err != nil {
		return xerrors.Errorf("acquire sealed sector paths: %w", err)
	}
	defer release()

	if err := porep.UnsealRange(ctx, cfg, paths.Cache, paths.Sealed, out, prover, sector.ID.Number, commD, t, offset, size); err != nil {
		return xerrors.Errorf("unseal range: %w", err)
	}
	return nil
}

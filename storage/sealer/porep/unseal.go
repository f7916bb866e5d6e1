package porep

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fr32"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// loadKey returns the last layer, from the cache when it is still there and
// intact, otherwise regenerated from the replica id.
func loadKey(ctx context.Context, cfg proofcfg.PoRepConfig, cacheDir string, replicaID domain.Node) ([]byte, func(), error) {
	path := filepath.Join(cacheDir, proofpaths.LayerFileName(cfg.Layers))

	if taux, err := sectorcache.ReadTAux(cacheDir); err == nil && taux.ReplicaID == replicaID && len(taux.Layers) == cfg.Layers {
		if ok, err := sectorcache.VerifyLayer(path, taux.Layers[cfg.Layers-1]); err == nil && ok {
			m, err := fsutil.OpenMappedSize(path, int64(cfg.SectorSize))
			if err == nil {
				return m.Bytes(), func() { _ = m.Close() }, nil
			}
		}
	}

	scratch := cacheDir
	if _, err := os.Stat(scratch); err != nil {
		scratch = ""
	}

	log.Infow("regenerating sector key", "cache", cacheDir, "layers", cfg.Layers)
	key, err := generateLayers(ctx, cfg, replicaID, scratch, nil)
	if err != nil {
		return nil, nil, xerrors.Errorf("regenerating key: %w", err)
	}
	return key.Bytes(), func() { _ = key.Close() }, nil
}

// UnsealRange writes length bytes of the original (unpadded) sector data
// starting at offset to out.
func UnsealRange(ctx context.Context, cfg proofcfg.PoRepConfig, cacheDir, sealedPath string, out io.Writer, proverID storiface.ProverID, sectorID abi.SectorNumber, commD storiface.Commitment, ticket storiface.Ticket, offset storiface.UnpaddedByteIndex, length abi.UnpaddedPieceSize) error {
	ussize := uint64(abi.PaddedPieceSize(cfg.SectorSize).Unpadded())
	if uint64(offset)+uint64(length) > ussize {
		return xerrors.Errorf("range %d+%d is outside the %d byte sector", offset, length, ussize)
	}
	if length == 0 {
		return nil
	}

	replica, err := fsutil.OpenMappedSize(sealedPath, int64(cfg.SectorSize))
	if err != nil {
		return err
	}
	defer replica.Close() // nolint

	replicaID := ReplicaID(proverID, sectorID, ticket, commD, cfg.PoRepID)
	key, done, err := loadKey(ctx, cfg, cacheDir, replicaID)
	if err != nil {
		return err
	}
	defer done()

	const unpaddedChunk, paddedChunk = 127, 128

	first := uint64(offset) / unpaddedChunk
	last := (uint64(offset) + uint64(length) + unpaddedChunk - 1) / unpaddedChunk

	padded := make([]byte, (last-first)*paddedChunk)
	startNode := first * paddedChunk / domain.NodeSize
	for i := uint64(0); i < uint64(len(padded))/domain.NodeSize; i++ {
		n := startNode + i
		d, err := domain.Decode(domain.At(key, n), domain.At(replica.Bytes(), n))
		if err != nil {
			return xerrors.Errorf("decoding node %d: %w", n, err)
		}
		domain.Put(padded, i, d)
	}

	unpadded := make([]byte, (last-first)*unpaddedChunk)
	fr32.Unpad(padded, unpadded)

	skip := uint64(offset) - first*unpaddedChunk
	if _, err := out.Write(unpadded[skip : skip+uint64(length)]); err != nil {
		return storiface.NewIoError("write", "unsealed output", err)
	}
	return nil
}

// FauxRep builds the replica tree over an existing sealed file without
// sealing, writing p_aux so the sector can be proven with post.
func FauxRep(ctx context.Context, cfg proofcfg.PoRepConfig, cacheDir, sealedPath string) (storiface.Commitment, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil { // nolint:gosec
		return storiface.Commitment{}, storiface.NewIoError("mkdir", cacheDir, err)
	}

	replica, err := fsutil.OpenMappedSize(sealedPath, int64(cfg.SectorSize))
	if err != nil {
		return storiface.Commitment{}, err
	}
	defer replica.Close() // nolint

	data := replica.Bytes()
	for i := uint64(0); i < cfg.Nodes(); i++ {
		if _, err := domain.At(data, i).Fr(); err != nil {
			return storiface.Commitment{}, xerrors.Errorf("node %d of %s: %w", i, sealedPath, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return storiface.Commitment{}, err
	}

	bt := cfg.Shape.BaseTrees()
	commRLast, err := merkle.WriteCompound(merkle.Poseidon, cfg.Shape, data, cacheDir, proofpaths.TreeRLastFiles(bt), false)
	if err != nil {
		return storiface.Commitment{}, xerrors.Errorf("building tree-r-last: %w", err)
	}
	commC := domain.Sha256Trunc([]byte("fauxrep"), commRLast[:])

	commR, err := commr.CommR(commC, commRLast)
	if err != nil {
		return storiface.Commitment{}, err
	}
	if err := sectorcache.WritePAux(cacheDir, sectorcache.PAux{CommC: commC, CommRLast: commRLast}); err != nil {
		return storiface.Commitment{}, err
	}

	log.Infow("fauxrep done", "sealed", sealedPath, "commR", storiface.Commitment(commR))
	return storiface.Commitment(commR), nil
}

// Finalize drops the layers, tree-d and tree-c once the sector is committed.
func Finalize(cfg proofcfg.PoRepConfig, cacheDir string) error {
	return sectorcache.ClearCache(cacheDir, cfg.SectorSize)
}

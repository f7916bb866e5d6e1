package porep

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// SealPreCommitPhase1 builds the data tree and every layer in cacheDir. Layer
// files that are already present with the right content are kept, so a failed
// run can simply be repeated.
func SealPreCommitPhase1(ctx context.Context, cfg proofcfg.PoRepConfig, cacheDir, stagedPath, sealedPath string, proverID storiface.ProverID, sectorID abi.SectorNumber, ticket storiface.Ticket, pieces []abi.PieceInfo) (*PreCommit1Out, error) {
	start := time.Now()

	if err := checkPieceLayout(cfg.SectorSize, pieces); err != nil {
		return nil, err
	}

	commD, err := GenerateDataCommitment(cfg.SectorSize, pieces)
	if err != nil {
		return nil, xerrors.Errorf("computing comm_d from pieces: %w", err)
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil { // nolint:gosec
		return nil, storiface.NewIoError("mkdir", cacheDir, err)
	}

	staged, err := fsutil.OpenMapped(stagedPath)
	if err != nil {
		return nil, err
	}
	defer staged.Close() // nolint

	data := staged.Bytes()
	if uint64(len(data)) < uint64(cfg.SectorSize) {
		return nil, storiface.NewIoError("read", stagedPath, xerrors.Errorf("staged file is %d bytes, sector is %d", len(data), cfg.SectorSize))
	}
	data = data[:cfg.SectorSize]

	treeDPath := filepath.Join(cacheDir, proofpaths.TreeDFileName())
	treeDRoot, err := merkle.WriteTree(merkle.Sha256, 2, data, treeDPath, true)
	if err != nil {
		return nil, xerrors.Errorf("writing tree-d: %w", err)
	}
	if storiface.Commitment(treeDRoot) != commD {
		return nil, xerrors.Errorf("staged data comm_d %s does not match pieces comm_d %s: %w", storiface.Commitment(treeDRoot), commD, storiface.ErrInvalidPieceLayout)
	}
	treeDDigest, err := sectorcache.FileDigest(treeDPath)
	if err != nil {
		return nil, err
	}

	replicaID := ReplicaID(proverID, sectorID, ticket, commD, cfg.PoRepID)

	digests := make([]sectorcache.Digest, cfg.Layers)
	last, err := generateLayers(ctx, cfg, replicaID, cacheDir, func(layer int, label []byte) error {
		d := sectorcache.BytesDigest(label)
		digests[layer-1] = d

		path := filepath.Join(cacheDir, proofpaths.LayerFileName(layer))
		ok, err := sectorcache.VerifyLayer(path, d)
		if err != nil {
			return err
		}
		if ok {
			log.Infow("layer already present", "sector", sectorID, "layer", layer)
			return nil
		}
		return fsutil.WriteBytes(path, label)
	})
	if err != nil {
		return nil, xerrors.Errorf("labeling layers: %w", err)
	}
	_ = last.Close()

	if err := fsutil.WriteFile(sealedPath, int64(cfg.SectorSize), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return nil, xerrors.Errorf("preparing sealed file: %w", err)
	}

	log.Infow("precommit phase 1 done", "sector", sectorID, "size", cfg.SectorSize.ShortString(), "took", time.Since(start))

	return &PreCommit1Out{
		SectorSize: cfg.SectorSize,
		PoRepID:    cfg.PoRepID,
		APIVersion: cfg.APIVersion,
		SectorID:   sectorID,
		Ticket:     ticket,
		ReplicaID:  replicaID,
		CommD:      commD,
		Pieces:     pieces,
		StagedPath: stagedPath,
		Cache: sectorcache.Record{
			SectorSize: cfg.SectorSize,
			Layers:     digests,
			TreeD:      treeDDigest,
		},
	}, nil
}

// SealPreCommitPhase2 encodes the replica with the last layer and builds the
// column and replica trees.
func SealPreCommitPhase2(ctx context.Context, cfg proofcfg.PoRepConfig, p1 *PreCommit1Out, cacheDir, sealedPath string) (PreCommitOutput, error) {
	start := time.Now()

	if err := checkConfig(cfg, p1.SectorSize, p1.PoRepID, p1.APIVersion); err != nil {
		return PreCommitOutput{}, err
	}
	if len(p1.Cache.Layers) != cfg.Layers {
		return PreCommitOutput{}, xerrors.Errorf("precommit1 recorded %d layers, config has %d: %w", len(p1.Cache.Layers), cfg.Layers, storiface.ErrInvalidCache)
	}
	if err := sectorcache.ValidateForPreCommit2(cacheDir, p1.StagedPath, p1.Cache); err != nil {
		return PreCommitOutput{}, xerrors.Errorf("validating cache: %w", err)
	}

	nodes := cfg.Nodes()

	treeD, err := merkle.OpenTree(filepath.Join(cacheDir, proofpaths.TreeDFileName()), 2, nodes)
	if err != nil {
		return PreCommitOutput{}, err
	}
	defer treeD.Close() // nolint

	layers := make([]*fsutil.MappedFile, cfg.Layers)
	for l := range layers {
		m, err := fsutil.OpenMappedSize(filepath.Join(cacheDir, proofpaths.LayerFileName(l+1)), int64(cfg.SectorSize))
		if err != nil {
			return PreCommitOutput{}, err
		}
		defer m.Close() // nolint
		layers[l] = m
	}
	key := layers[cfg.Layers-1].Bytes()

	// replica = key + data; the data is read back from the tree-d leaves so a
	// repeated run never encodes twice
	err = fsutil.WriteFile(sealedPath, int64(cfg.SectorSize), func(w io.Writer) error {
		buf := make([]byte, 0, 1<<16)
		for i := uint64(0); i < nodes; i++ {
			enc, err := domain.Encode(domain.At(key, i), treeD.Leaf(i))
			if err != nil {
				return xerrors.Errorf("encoding node %d: %w", i, err)
			}
			buf = append(buf, enc[:]...)
			if len(buf) == cap(buf) {
				if _, err := w.Write(buf); err != nil {
					return err
				}
				buf = buf[:0]
			}
		}
		_, err := w.Write(buf)
		return err
	})
	if err != nil {
		return PreCommitOutput{}, xerrors.Errorf("encoding replica: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return PreCommitOutput{}, err
	}

	commC, err := writeTreeC(cfg, layers, cacheDir)
	if err != nil {
		return PreCommitOutput{}, xerrors.Errorf("building tree-c: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return PreCommitOutput{}, err
	}

	replica, err := fsutil.OpenMappedSize(sealedPath, int64(cfg.SectorSize))
	if err != nil {
		return PreCommitOutput{}, err
	}
	defer replica.Close() // nolint

	commRLast, err := merkle.WriteCompound(merkle.Poseidon, cfg.Shape, replica.Bytes(), cacheDir, proofpaths.TreeRLastFiles(cfg.Shape.BaseTrees()), false)
	if err != nil {
		return PreCommitOutput{}, xerrors.Errorf("building tree-r-last: %w", err)
	}

	commR, err := commr.CommR(commC, commRLast)
	if err != nil {
		return PreCommitOutput{}, err
	}

	if err := sectorcache.WritePAux(cacheDir, sectorcache.PAux{CommC: commC, CommRLast: commRLast}); err != nil {
		return PreCommitOutput{}, xerrors.Errorf("writing p_aux: %w", err)
	}

	taux := sectorcache.TAux{
		SectorSize: cfg.SectorSize,
		Shape:      cfg.Shape.String(),
		Layers:     p1.Cache.Layers,
		TreeD:      p1.Cache.TreeD,
		Ticket:     p1.Ticket,
		ReplicaID:  p1.ReplicaID,
		CommD:      domain.Node(p1.CommD),
	}
	if prev, err := sectorcache.ReadTAux(cacheDir); err == nil && prev.ReplicaID == taux.ReplicaID {
		taux.Seed = prev.Seed
	}
	if err := sectorcache.WriteTAux(cacheDir, taux); err != nil {
		return PreCommitOutput{}, xerrors.Errorf("writing t_aux: %w", err)
	}

	log.Infow("precommit phase 2 done", "sector", p1.SectorID, "commR", storiface.Commitment(commR), "took", time.Since(start))

	return PreCommitOutput{CommR: storiface.Commitment(commR), CommD: p1.CommD}, nil
}

// writeTreeC builds tree-c one base tree at a time. Column hashes of a base
// tree are streamed into a scratch mapping, so only the layer files and one
// base tree's leaves are mapped at once.
func writeTreeC(cfg proofcfg.PoRepConfig, layers []*fsutil.MappedFile, cacheDir string) (domain.Node, error) {
	names := proofpaths.TreeCFiles(cfg.Shape.BaseTrees())
	per, err := cfg.Shape.BaseLeaves(cfg.Nodes())
	if err != nil {
		return domain.Node{}, err
	}

	cols, err := fsutil.CreateScratch(cacheDir, "sc-columns-*", int64(per*domain.NodeSize))
	if err != nil {
		return domain.Node{}, err
	}
	defer cols.Close() // nolint

	parts := make([][]byte, len(layers))
	roots := make([]domain.Node, len(names))
	for b, name := range names {
		for j := uint64(0); j < per; j++ {
			i := uint64(b)*per + j
			for l := range layers {
				parts[l] = layers[l].Bytes()[i*domain.NodeSize : (i+1)*domain.NodeSize]
			}
			domain.Put(cols.Bytes(), j, domain.Sha256Trunc(parts...))
		}

		if roots[b], err = merkle.WriteTree(merkle.Poseidon, merkle.BaseArity, cols.Bytes(), filepath.Join(cacheDir, name), true); err != nil {
			return domain.Node{}, xerrors.Errorf("writing base tree %d: %w", b, err)
		}
	}

	_, root, err := merkle.CompoundRoot(merkle.Poseidon, cfg.Shape, roots)
	return root, err
}

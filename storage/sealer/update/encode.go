package update

import (
	"context"
	"encoding/binary"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/porep"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var log = logging.Logger("update")

type EncodeOutput struct {
	CommRNew     storiface.Commitment
	CommRLastNew domain.Node
	CommDNew     storiface.Commitment
}

// rhos holds the 2^h scaling factors of an update; node i uses the one
// selected by its h high index bits.
type rhos struct {
	shift uint
	vals  []fr.Element
	invs  []fr.Element
}

func phi(commDNew, commROld storiface.Commitment) domain.Node {
	return domain.Sha256Trunc(commDNew[:], commROld[:])
}

func newRhos(cfg proofcfg.SectorUpdateConfig, commDNew, commROld storiface.Commitment, inverse bool) (*rhos, error) {
	nodes := cfg.Nodes()
	logNodes := bits.TrailingZeros64(nodes)
	if cfg.HSelect > logNodes {
		return nil, xerrors.Errorf("h %d is larger than log2 of %d nodes", cfg.HSelect, nodes)
	}

	p := phi(commDNew, commROld)
	r := &rhos{
		shift: uint(logNodes - cfg.HSelect),
		vals:  make([]fr.Element, 1<<cfg.HSelect),
	}
	if inverse {
		r.invs = make([]fr.Element, len(r.vals))
	}

	var idx [8]byte
	for j := range r.vals {
		binary.LittleEndian.PutUint64(idx[:], uint64(j))
		e, err := domain.Sha256Trunc(p[:], idx[:]).Fr()
		if err != nil {
			return nil, err
		}
		if e.IsZero() {
			return nil, xerrors.Errorf("rho %d is zero", j)
		}
		r.vals[j] = e
		if inverse {
			r.invs[j].Inverse(&e)
		}
	}
	return r, nil
}

func (r *rhos) rho(i uint64) *fr.Element {
	return &r.vals[i>>r.shift]
}

func (r *rhos) inv(i uint64) *fr.Element {
	return &r.invs[i>>r.shift]
}

// sectorKeyCommR reads comm_r and comm_c of the sector key from its cache.
func sectorKeyCommR(cacheDir string) (storiface.Commitment, sectorcache.PAux, error) {
	paux, err := sectorcache.ReadPAux(cacheDir)
	if err != nil {
		return storiface.Commitment{}, paux, xerrors.Errorf("reading sector key p_aux: %w", err)
	}
	c, err := commr.CommR(paux.CommC, paux.CommRLast)
	if err != nil {
		return storiface.Commitment{}, paux, err
	}
	return storiface.Commitment(c), paux, nil
}

func openSized(path string, ss abi.SectorSize) (*fsutil.MappedFile, error) {
	f, err := fsutil.OpenMapped(path)
	if err != nil {
		return nil, err
	}
	if uint64(len(f.Bytes())) < uint64(ss) {
		_ = f.Close()
		return nil, storiface.NewIoError("read", path, xerrors.Errorf("file is %d bytes, sector is %d", len(f.Bytes()), ss))
	}
	return f, nil
}

// writeNodes writes the node-wise combination of two node arrays to path.
func writeNodes(path string, ss abi.SectorSize, nodes uint64, fn func(i uint64) (domain.Node, error)) error {
	return fsutil.WriteFile(path, int64(ss), func(w io.Writer) error {
		buf := make([]byte, 0, 1<<16)
		for i := uint64(0); i < nodes; i++ {
			n, err := fn(i)
			if err != nil {
				return xerrors.Errorf("node %d: %w", i, err)
			}
			buf = append(buf, n[:]...)
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
}

// EncodeInto writes a new replica holding the staged data, encoded onto the
// sector key. The sector key and its cache are only read.
func EncodeInto(ctx context.Context, cfg proofcfg.SectorUpdateConfig, newReplicaPath, newCacheDir, sectorKeyPath, sectorKeyCacheDir, stagedDataPath string, pieces []abi.PieceInfo) (EncodeOutput, error) {
	start := time.Now()

	commDNew, err := porep.GenerateDataCommitment(cfg.SectorSize, pieces)
	if err != nil {
		return EncodeOutput{}, err
	}
	commROld, keyPAux, err := sectorKeyCommR(sectorKeyCacheDir)
	if err != nil {
		return EncodeOutput{}, err
	}

	if err := os.MkdirAll(newCacheDir, 0755); err != nil { // nolint:gosec
		return EncodeOutput{}, storiface.NewIoError("mkdir", newCacheDir, err)
	}

	staged, err := openSized(stagedDataPath, cfg.SectorSize)
	if err != nil {
		return EncodeOutput{}, err
	}
	defer staged.Close() // nolint
	data := staged.Bytes()[:cfg.SectorSize]

	treeDRoot, err := merkle.WriteTree(merkle.Sha256, 2, data, filepath.Join(newCacheDir, proofpaths.TreeDFileName()), true)
	if err != nil {
		return EncodeOutput{}, xerrors.Errorf("writing tree-d: %w", err)
	}
	if storiface.Commitment(treeDRoot) != commDNew {
		return EncodeOutput{}, xerrors.Errorf("staged data comm_d %s does not match pieces %s: %w", storiface.Commitment(treeDRoot), commDNew, storiface.ErrInvalidPieceLayout)
	}

	key, err := fsutil.OpenMappedSize(sectorKeyPath, int64(cfg.SectorSize))
	if err != nil {
		return EncodeOutput{}, err
	}
	defer key.Close() // nolint

	r, err := newRhos(cfg, commDNew, commROld, false)
	if err != nil {
		return EncodeOutput{}, err
	}

	err = writeNodes(newReplicaPath, cfg.SectorSize, cfg.Nodes(), func(i uint64) (domain.Node, error) {
		return domain.EncodeScaled(domain.At(key.Bytes(), i), domain.At(data, i), r.rho(i))
	})
	if err != nil {
		return EncodeOutput{}, xerrors.Errorf("encoding replica: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return EncodeOutput{}, err
	}

	replica, err := fsutil.OpenMappedSize(newReplicaPath, int64(cfg.SectorSize))
	if err != nil {
		return EncodeOutput{}, err
	}
	defer replica.Close() // nolint

	commRLastNew, err := merkle.WriteCompound(merkle.Poseidon, cfg.Shape, replica.Bytes(), newCacheDir, proofpaths.TreeRLastFiles(cfg.Shape.BaseTrees()), false)
	if err != nil {
		return EncodeOutput{}, xerrors.Errorf("building tree-r-last: %w", err)
	}

	commRNew, err := commr.CommR(keyPAux.CommC, commRLastNew)
	if err != nil {
		return EncodeOutput{}, err
	}
	if err := sectorcache.WritePAux(newCacheDir, sectorcache.PAux{CommC: keyPAux.CommC, CommRLast: commRLastNew}); err != nil {
		return EncodeOutput{}, err
	}

	log.Infow("encoded replica update", "replica", newReplicaPath, "commRNew", storiface.Commitment(commRNew), "took", time.Since(start))
	return EncodeOutput{
		CommRNew:     storiface.Commitment(commRNew),
		CommRLastNew: commRLastNew,
		CommDNew:     commDNew,
	}, nil
}

// DecodeFrom recovers the staged data from an updated replica and its sector
// key.
func DecodeFrom(ctx context.Context, cfg proofcfg.SectorUpdateConfig, outDataPath, replicaPath, sectorKeyPath, sectorKeyCacheDir string, commDNew storiface.Commitment) error {
	commROld, _, err := sectorKeyCommR(sectorKeyCacheDir)
	if err != nil {
		return err
	}

	replica, err := fsutil.OpenMappedSize(replicaPath, int64(cfg.SectorSize))
	if err != nil {
		return err
	}
	defer replica.Close() // nolint

	key, err := fsutil.OpenMappedSize(sectorKeyPath, int64(cfg.SectorSize))
	if err != nil {
		return err
	}
	defer key.Close() // nolint

	if err := ctx.Err(); err != nil {
		return err
	}

	r, err := newRhos(cfg, commDNew, commROld, true)
	if err != nil {
		return err
	}

	err = writeNodes(outDataPath, cfg.SectorSize, cfg.Nodes(), func(i uint64) (domain.Node, error) {
		return domain.DecodeScaled(domain.At(key.Bytes(), i), domain.At(replica.Bytes(), i), r.inv(i))
	})
	if err != nil {
		return xerrors.Errorf("decoding replica: %w", err)
	}
	return nil
}

// RemoveEncodedData recovers the sector key from an updated replica and its
// data, writing it to sectorKeyPath. The rebuilt key must hash to the
// comm_r_last recorded in the sector key cache.
func RemoveEncodedData(ctx context.Context, cfg proofcfg.SectorUpdateConfig, sectorKeyPath, sectorKeyCacheDir, replicaPath, replicaCacheDir, dataPath string, commDNew storiface.Commitment) (storiface.Commitment, error) {
	commROld, keyPAux, err := sectorKeyCommR(sectorKeyCacheDir)
	if err != nil {
		return storiface.Commitment{}, err
	}

	// the replica must be the one its cache describes
	newPAux, err := sectorcache.ReadPAux(replicaCacheDir)
	if err != nil {
		return storiface.Commitment{}, err
	}
	if newPAux.CommC != keyPAux.CommC {
		return storiface.Commitment{}, xerrors.Errorf("replica and sector key have different comm_c: %w", storiface.ErrInvalidCache)
	}

	replica, err := fsutil.OpenMappedSize(replicaPath, int64(cfg.SectorSize))
	if err != nil {
		return storiface.Commitment{}, err
	}
	defer replica.Close() // nolint

	data, err := openSized(dataPath, cfg.SectorSize)
	if err != nil {
		return storiface.Commitment{}, err
	}
	defer data.Close() // nolint

	if err := ctx.Err(); err != nil {
		return storiface.Commitment{}, err
	}

	r, err := newRhos(cfg, commDNew, commROld, false)
	if err != nil {
		return storiface.Commitment{}, err
	}

	// rebuilt next to sectorKeyPath, moved over it only once the root matches
	recovered := sectorKeyPath + ".recovered"
	err = writeNodes(recovered, cfg.SectorSize, cfg.Nodes(), func(i uint64) (domain.Node, error) {
		return domain.RemoveScaled(domain.At(replica.Bytes(), i), domain.At(data.Bytes(), i), r.rho(i))
	})
	if err != nil {
		return storiface.Commitment{}, xerrors.Errorf("removing encoded data: %w", err)
	}

	root, err := recoveredRoot(cfg, recovered)
	if err != nil {
		_ = os.Remove(recovered)
		return storiface.Commitment{}, err
	}
	if root != keyPAux.CommRLast {
		_ = os.Remove(recovered)
		return storiface.Commitment{}, xerrors.Errorf("recovered sector key has comm_r_last %s, expected %s", root, keyPAux.CommRLast)
	}

	if err := os.Rename(recovered, sectorKeyPath); err != nil {
		_ = os.Remove(recovered)
		return storiface.Commitment{}, storiface.NewIoError("rename", sectorKeyPath, err)
	}

	log.Infow("recovered sector key", "key", sectorKeyPath, "commR", commROld)
	return commROld, nil
}

func recoveredRoot(cfg proofcfg.SectorUpdateConfig, path string) (domain.Node, error) {
	key, err := fsutil.OpenMappedSize(path, int64(cfg.SectorSize))
	if err != nil {
		return domain.Node{}, err
	}
	defer key.Close() // nolint

	return merkle.RootOf(merkle.Poseidon, cfg.Shape, key.Bytes())
}

package sectorcache

import (
	"os"
	"path/filepath"
	"sort"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var log = logging.Logger("sectorcache")

type LayerState int

const (
	LayerPresent LayerState = iota
	LayerMissing
	LayerWrongSize
)

func (s LayerState) String() string {
	switch s {
	case LayerPresent:
		return "present"
	case LayerMissing:
		return "missing"
	case LayerWrongSize:
		return "wrong-size"
	default:
		return "unknown"
	}
}

// TreeDSize is the size of the data tree file, leaves included.
func TreeDSize(ss abi.SectorSize) (int64, error) {
	return merkle.StoreSize(proofcfg.Nodes(ss), 2, true)
}

// BaseTreeSize is the size of one tree-c (withLeaves) or tree-r-last file.
func BaseTreeSize(ss abi.SectorSize, withLeaves bool) (int64, error) {
	shape, err := proofcfg.ShapeFor(ss)
	if err != nil {
		return 0, err
	}
	per, err := shape.BaseLeaves(proofcfg.Nodes(ss))
	if err != nil {
		return 0, err
	}
	return merkle.StoreSize(per, merkle.BaseArity, withLeaves)
}

func fileState(path string, size int64) (LayerState, error) {
	st, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return LayerMissing, nil
	case err != nil:
		return 0, storiface.NewIoError("stat", path, err)
	case st.Size() != size:
		return LayerWrongSize, nil
	}
	return LayerPresent, nil
}

// LayerStatus reports for every layer whether its file is present with the
// right size. This is what a resumed PreCommit1 starts from.
func LayerStatus(cacheDir string, cfg proofcfg.PoRepConfig) ([]LayerState, error) {
	out := make([]LayerState, cfg.Layers)
	for l := 1; l <= cfg.Layers; l++ {
		s, err := fileState(filepath.Join(cacheDir, proofpaths.LayerFileName(l)), int64(cfg.SectorSize))
		if err != nil {
			return nil, err
		}
		out[l-1] = s
	}
	return out, nil
}

// VerifyLayer checks file content against a recorded digest. A missing file is
// not an error, it simply does not match.
func VerifyLayer(path string, digest Digest) (bool, error) {
	d, err := FileDigest(path)
	if err != nil {
		if xerrors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return d == digest, nil
}

func checkFile(path string, size int64, digest *Digest) error {
	s, err := fileState(path, size)
	if err != nil {
		return err
	}
	if s != LayerPresent {
		return xerrors.Errorf("%s is %s: %w", path, s, storiface.ErrInvalidCache)
	}
	if digest == nil {
		return nil
	}
	ok, err := VerifyLayer(path, *digest)
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.Errorf("%s does not match its recorded digest: %w", path, storiface.ErrInvalidCache)
	}
	return nil
}

// ValidateForPreCommit2 checks that every layer and the data tree PreCommit1
// recorded are present and intact, and that the staged data is readable.
func ValidateForPreCommit2(cacheDir, stagedPath string, rec Record) error {
	f, err := os.Open(stagedPath)
	if err != nil {
		return storiface.NewIoError("open", stagedPath, err)
	}
	st, err := f.Stat()
	_ = f.Close()
	if err != nil {
		return storiface.NewIoError("stat", stagedPath, err)
	}
	if st.Size() < int64(rec.SectorSize) {
		return storiface.NewIoError("read", stagedPath, xerrors.Errorf("staged file is %d bytes, sector is %d", st.Size(), rec.SectorSize))
	}

	for i, d := range rec.Layers {
		d := d
		if err := checkFile(filepath.Join(cacheDir, proofpaths.LayerFileName(i+1)), int64(rec.SectorSize), &d); err != nil {
			return err
		}
	}

	tds, err := TreeDSize(rec.SectorSize)
	if err != nil {
		return err
	}
	return checkFile(filepath.Join(cacheDir, proofpaths.TreeDFileName()), tds, &rec.TreeD)
}

// ValidateForCommit checks the artifacts commit and post read: p_aux, t_aux,
// the replica tree files and the sealed file.
func ValidateForCommit(cacheDir, sealedPath string, ss abi.SectorSize) error {
	if _, err := ReadPAux(cacheDir); err != nil {
		return err
	}
	taux, err := ReadTAux(cacheDir)
	if err != nil {
		return err
	}
	if taux.SectorSize != ss {
		return xerrors.Errorf("cache was built for %d byte sectors, not %d: %w", taux.SectorSize, ss, storiface.ErrInvalidCache)
	}

	shape, err := proofcfg.ShapeFor(ss)
	if err != nil {
		return err
	}
	rls, err := BaseTreeSize(ss, false)
	if err != nil {
		return err
	}
	for _, name := range proofpaths.TreeRLastFiles(shape.BaseTrees()) {
		if err := checkFile(filepath.Join(cacheDir, name), rls, nil); err != nil {
			return err
		}
	}

	s, err := fileState(sealedPath, int64(ss))
	if err != nil {
		return err
	}
	if s != LayerPresent {
		return xerrors.Errorf("sealed file %s is %s: %w", sealedPath, s, storiface.ErrInvalidCache)
	}
	return nil
}

// ClearLayerData removes only the layer files.
func ClearLayerData(cacheDir string) error {
	ents, err := os.ReadDir(cacheDir)
	if err != nil {
		return storiface.NewIoError("readdir", cacheDir, err)
	}
	for _, e := range ents {
		if e.IsDir() || !proofpaths.IsLayerFile(e.Name()) {
			continue
		}
		p := filepath.Join(cacheDir, e.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return storiface.NewIoError("remove", p, err)
		}
	}
	return nil
}

// ClearCache removes everything except what proving still needs: p_aux, t_aux
// and the replica tree.
func ClearCache(cacheDir string, ss abi.SectorSize) error {
	if err := ClearLayerData(cacheDir); err != nil {
		return err
	}

	shape, err := proofcfg.ShapeFor(ss)
	if err != nil {
		return err
	}

	remove := append([]string{proofpaths.TreeDFileName()}, proofpaths.TreeCFiles(shape.BaseTrees())...)
	for _, name := range remove {
		p := filepath.Join(cacheDir, name)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return storiface.NewIoError("remove", p, err)
		}
	}

	log.Debugw("cleared sector cache", "cache", cacheDir, "size", ss)
	return nil
}

type FileInfo struct {
	Name string
	Size int64
}

// Inspect lists the files in a cache directory by name.
func Inspect(cacheDir string) ([]FileInfo, error) {
	ents, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, storiface.NewIoError("readdir", cacheDir, err)
	}

	var out []FileInfo
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, storiface.NewIoError("stat", filepath.Join(cacheDir, e.Name()), err)
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

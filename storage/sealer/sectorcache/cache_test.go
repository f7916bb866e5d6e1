package sectorcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func writeFile(t *testing.T, path string, size int, fill byte) {
	b := make([]byte, size)
	for i := range b {
		b[i] = fill
	}
	require.NoError(t, os.WriteFile(path, b, 0644))
}

func TestLayerStatusAndClear(t *testing.T) {
	cfg, err := proofcfg.PoRepConfigForSize(2*proofcfg.KiB, proofcfg.PoRepID{}, proofcfg.V1_1_0)
	require.NoError(t, err)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, proofpaths.LayerFileName(1)), 2048, 1)
	writeFile(t, filepath.Join(dir, proofpaths.LayerFileName(2)), 100, 2)

	st, err := LayerStatus(dir, cfg)
	require.NoError(t, err)
	require.Equal(t, []LayerState{LayerPresent, LayerWrongSize}, st)

	require.NoError(t, os.Remove(filepath.Join(dir, proofpaths.LayerFileName(2))))
	st, err = LayerStatus(dir, cfg)
	require.NoError(t, err)
	require.Equal(t, []LayerState{LayerPresent, LayerMissing}, st)

	require.NoError(t, WritePAux(dir, PAux{CommC: [32]byte{1}, CommRLast: [32]byte{2}}))
	writeFile(t, filepath.Join(dir, proofpaths.TreeDFileName()), 10, 0)
	writeFile(t, filepath.Join(dir, proofpaths.TreeRLastFileName(0, 1)), 10, 0)

	require.NoError(t, ClearLayerData(dir))
	files, err := Inspect(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{proofpaths.PAuxFileName, proofpaths.TreeDFileName(), proofpaths.TreeRLastFileName(0, 1)}, names)

	require.NoError(t, ClearCache(dir, cfg.SectorSize))
	files, err = Inspect(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	paux, err := ReadPAux(dir)
	require.NoError(t, err)
	require.Equal(t, byte(2), paux.CommRLast[0])
}

func TestValidateForPreCommit2(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "staged")
	writeFile(t, staged, 2048, 0)

	l1 := filepath.Join(dir, proofpaths.LayerFileName(1))
	writeFile(t, l1, 2048, 7)
	d1, err := FileDigest(l1)
	require.NoError(t, err)

	tds, err := TreeDSize(2 * proofcfg.KiB)
	require.NoError(t, err)
	td := filepath.Join(dir, proofpaths.TreeDFileName())
	writeFile(t, td, int(tds), 3)
	dtd, err := FileDigest(td)
	require.NoError(t, err)

	rec := Record{SectorSize: 2 * proofcfg.KiB, Layers: []Digest{d1}, TreeD: dtd}
	require.NoError(t, ValidateForPreCommit2(dir, staged, rec))

	// same size, different content
	writeFile(t, l1, 2048, 8)
	require.ErrorIs(t, ValidateForPreCommit2(dir, staged, rec), storiface.ErrInvalidCache)

	require.NoError(t, os.Remove(l1))
	require.ErrorIs(t, ValidateForPreCommit2(dir, staged, rec), storiface.ErrInvalidCache)

	require.ErrorIs(t, ValidateForPreCommit2(dir, filepath.Join(dir, "nope"), rec), storiface.ErrIoError)
}

func TestValidateForCommitMissingAux(t *testing.T) {
	dir := t.TempDir()
	err := ValidateForCommit(dir, filepath.Join(dir, "sealed"), 2*proofcfg.KiB)
	require.ErrorIs(t, err, storiface.ErrInvalidCache)

	require.NoError(t, os.WriteFile(filepath.Join(dir, proofpaths.PAuxFileName), []byte{1, 2, 3}, 0644))
	_, err = ReadPAux(dir)
	require.ErrorIs(t, err, storiface.ErrInvalidCache)
}

func TestVerifyLayerMissingFile(t *testing.T) {
	ok, err := VerifyLayer(filepath.Join(t.TempDir(), "missing"), Digest{})
	require.NoError(t, err)
	require.False(t, ok)
}

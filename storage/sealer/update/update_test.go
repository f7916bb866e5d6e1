package update

import (
	"bytes"
	"context"
	"crypto/sha256"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/porep"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func init() {
	_ = logging.SetLogLevel("*", "INFO")
}

type ccSector struct {
	cfg   proofcfg.SectorUpdateConfig
	dir   string
	key   Replica
	commR storiface.Commitment
}

func writePiece(t *testing.T, ss abi.SectorSize, path string, data []byte) []abi.PieceInfo {
	f, err := os.Create(path)
	require.NoError(t, err)
	pi, err := porep.AddPiece(context.TODO(), ss, nil, bytes.NewReader(data), abi.UnpaddedPieceSize(len(data)), f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return []abi.PieceInfo{pi}
}

// sealCC seals and finalizes a 2KiB committed capacity sector.
func sealCC(t *testing.T) *ccSector {
	ctx := context.TODO()

	pcfg, err := proofcfg.NewPoRepConfig(abi.RegisteredSealProof_StackedDrg2KiBV1_1, proofcfg.V1_1_0)
	require.NoError(t, err)
	ucfg, err := proofcfg.SectorUpdateConfigFor(pcfg.SectorSize)
	require.NoError(t, err)

	dir := t.TempDir()
	cc := &ccSector{
		cfg: ucfg,
		dir: dir,
		key: Replica{Path: filepath.Join(dir, "sealed"), CacheDir: filepath.Join(dir, "cache")},
	}

	staged := filepath.Join(dir, "cc-staged")
	zeros := make([]byte, abi.PaddedPieceSize(pcfg.SectorSize).Unpadded())
	pieces := writePiece(t, pcfg.SectorSize, staged, zeros)

	prover, err := storiface.ToProverID(1000)
	require.NoError(t, err)

	p1, err := porep.SealPreCommitPhase1(ctx, pcfg, cc.key.CacheDir, staged, cc.key.Path, prover, 1, storiface.Ticket{1, 2, 3}, pieces)
	require.NoError(t, err)
	pre, err := porep.SealPreCommitPhase2(ctx, pcfg, p1, cc.key.CacheDir, cc.key.Path)
	require.NoError(t, err)
	require.NoError(t, porep.Finalize(pcfg, cc.key.CacheDir))

	cc.commR = pre.CommR
	return cc
}

func (cc *ccSector) randomData(t *testing.T, name string, seed int64) (string, []abi.PieceInfo) {
	data := make([]byte, abi.PaddedPieceSize(cc.cfg.SectorSize).Unpadded())
	_, _ = rand.New(rand.NewSource(seed)).Read(data)

	path := filepath.Join(cc.dir, name)
	return path, writePiece(t, cc.cfg.SectorSize, path, data)
}

func snapshot(t *testing.T, dirs ...string) map[string][32]byte {
	out := map[string][32]byte{}
	for _, d := range dirs {
		files, err := sectorcache.Inspect(d)
		require.NoError(t, err)
		for _, f := range files {
			b, err := os.ReadFile(filepath.Join(d, f.Name))
			require.NoError(t, err)
			out[filepath.Join(d, f.Name)] = sha256.Sum256(b)
		}
	}
	return out
}

func readFile(t *testing.T, path string) []byte {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func TestUpdateRoundTrip(t *testing.T) {
	ctx := context.TODO()
	cc := sealCC(t)

	before := snapshot(t, cc.key.CacheDir)
	sealed := readFile(t, cc.key.Path)

	staged, pieces := cc.randomData(t, "staged", 42)
	replica := Replica{Path: filepath.Join(cc.dir, "update"), CacheDir: filepath.Join(cc.dir, "update-cache")}

	out, err := EncodeInto(ctx, cc.cfg, replica.Path, replica.CacheDir, cc.key.Path, cc.key.CacheDir, staged, pieces)
	require.NoError(t, err)

	commD, err := porep.GenerateDataCommitment(cc.cfg.SectorSize, pieces)
	require.NoError(t, err)
	require.Equal(t, commD, out.CommDNew)
	require.NotEqual(t, cc.commR, out.CommRNew)
	require.NotEqual(t, sealed, readFile(t, replica.Path))

	decoded := filepath.Join(cc.dir, "decoded")
	require.NoError(t, DecodeFrom(ctx, cc.cfg, decoded, replica.Path, cc.key.Path, cc.key.CacheDir, out.CommDNew))
	require.Equal(t, readFile(t, staged)[:cc.cfg.SectorSize], readFile(t, decoded))

	recovered := filepath.Join(cc.dir, "recovered")
	commROld, err := RemoveEncodedData(ctx, cc.cfg, recovered, cc.key.CacheDir, replica.Path, replica.CacheDir, staged, out.CommDNew)
	require.NoError(t, err)
	require.Equal(t, cc.commR, commROld)
	require.Equal(t, sealed, readFile(t, recovered))

	require.Equal(t, before, snapshot(t, cc.key.CacheDir))
	require.Equal(t, sealed, readFile(t, cc.key.Path))
}

func TestEncodeRejectsWrongPieces(t *testing.T) {
	cc := sealCC(t)
	before := snapshot(t, cc.key.CacheDir)

	staged, _ := cc.randomData(t, "staged", 1)
	_, other := cc.randomData(t, "other", 2)

	replica := Replica{Path: filepath.Join(cc.dir, "update"), CacheDir: filepath.Join(cc.dir, "update-cache")}
	_, err := EncodeInto(context.TODO(), cc.cfg, replica.Path, replica.CacheDir, cc.key.Path, cc.key.CacheDir, staged, other)
	require.ErrorIs(t, err, storiface.ErrInvalidPieceLayout)

	require.Equal(t, before, snapshot(t, cc.key.CacheDir))
}

func TestRemoveWrongData(t *testing.T) {
	ctx := context.TODO()
	cc := sealCC(t)

	staged, pieces := cc.randomData(t, "staged", 3)
	other, _ := cc.randomData(t, "other", 4)

	replica := Replica{Path: filepath.Join(cc.dir, "update"), CacheDir: filepath.Join(cc.dir, "update-cache")}
	out, err := EncodeInto(ctx, cc.cfg, replica.Path, replica.CacheDir, cc.key.Path, cc.key.CacheDir, staged, pieces)
	require.NoError(t, err)

	recovered := filepath.Join(cc.dir, "recovered")
	_, err = RemoveEncodedData(ctx, cc.cfg, recovered, cc.key.CacheDir, replica.Path, replica.CacheDir, other, out.CommDNew)
	require.Error(t, err)

	_, err = os.Stat(recovered)
	require.True(t, os.IsNotExist(err))
}

func TestRemoveWrongDataKeepsSectorKey(t *testing.T) {
	ctx := context.TODO()
	cc := sealCC(t)
	sealed := readFile(t, cc.key.Path)

	staged, pieces := cc.randomData(t, "staged", 5)
	other, _ := cc.randomData(t, "other", 6)

	replica := Replica{Path: filepath.Join(cc.dir, "update"), CacheDir: filepath.Join(cc.dir, "update-cache")}
	out, err := EncodeInto(ctx, cc.cfg, replica.Path, replica.CacheDir, cc.key.Path, cc.key.CacheDir, staged, pieces)
	require.NoError(t, err)

	// recovering over the existing key with the wrong data leaves it alone
	_, err = RemoveEncodedData(ctx, cc.cfg, cc.key.Path, cc.key.CacheDir, replica.Path, replica.CacheDir, other, out.CommDNew)
	require.Error(t, err)
	require.Equal(t, sealed, readFile(t, cc.key.Path))

	_, err = os.Stat(cc.key.Path + ".recovered")
	require.True(t, os.IsNotExist(err))

	// and the right data rewrites it in place
	commROld, err := RemoveEncodedData(ctx, cc.cfg, cc.key.Path, cc.key.CacheDir, replica.Path, replica.CacheDir, staged, out.CommDNew)
	require.NoError(t, err)
	require.Equal(t, cc.commR, commROld)
	require.Equal(t, sealed, readFile(t, cc.key.Path))
}

func TestUpdateProofs(t *testing.T) {
	ctx := context.TODO()
	cc := sealCC(t)
	before := snapshot(t, cc.key.CacheDir)

	staged, pieces := cc.randomData(t, "staged", 7)
	replica := Replica{Path: filepath.Join(cc.dir, "update"), CacheDir: filepath.Join(cc.dir, "update-cache")}
	out, err := EncodeInto(ctx, cc.cfg, replica.Path, replica.CacheDir, cc.key.Path, cc.key.CacheDir, staged, pieces)
	require.NoError(t, err)

	commROld, commRNew, commDNew := cc.commR, out.CommRNew, out.CommDNew

	vanilla, err := GeneratePartitionProofs(cc.cfg, commROld, commRNew, commDNew, cc.key, replica)
	require.NoError(t, err)
	require.Len(t, vanilla, cc.cfg.Partitions)

	ok, err := VerifyPartitionProofs(cc.cfg, vanilla, commROld, commRNew, commDNew)
	require.NoError(t, err)
	require.True(t, ok)

	for k := range vanilla {
		single, err := GenerateSinglePartitionProof(cc.cfg, k, commROld, commRNew, commDNew, cc.key, replica)
		require.NoError(t, err)

		b, err := single.Marshal()
		require.NoError(t, err)
		single, err = UnmarshalPartitionProof(b)
		require.NoError(t, err)

		ok, err := VerifySinglePartitionProof(cc.cfg, single, commROld, commRNew, commDNew)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err = GenerateSinglePartitionProof(cc.cfg, cc.cfg.Partitions, commROld, commRNew, commDNew, cc.key, replica)
	require.Error(t, err)

	// the sector key does not open against another comm_r
	_, err = GeneratePartitionProofs(cc.cfg, commRNew, commRNew, commDNew, cc.key, replica)
	require.ErrorIs(t, err, storiface.ErrInvalidCache)

	proof, err := GenerateEmptySectorUpdateProof(ctx, cc.cfg, commROld, commRNew, commDNew, cc.key, replica)
	require.NoError(t, err)

	fromVanilla, err := GenerateEmptySectorUpdateProofWithVanilla(ctx, cc.cfg, vanilla, commROld, commRNew, commDNew)
	require.NoError(t, err)
	require.Equal(t, proof, fromVanilla)

	ok, err = VerifyEmptySectorUpdateProof(cc.cfg, proof, commROld, commRNew, commDNew)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("mismatched-triple", func(t *testing.T) {
		for _, triple := range [][3]storiface.Commitment{
			{commRNew, commROld, commDNew},
			{commROld, commRNew, commROld},
			{commROld, commROld, commDNew},
			{storiface.Commitment{1}, commRNew, commDNew},
		} {
			ok, err := VerifyEmptySectorUpdateProof(cc.cfg, proof, triple[0], triple[1], triple[2])
			require.NoError(t, err)
			require.False(t, ok)

			ok, err = VerifyPartitionProofs(cc.cfg, vanilla, triple[0], triple[1], triple[2])
			require.NoError(t, err)
			require.False(t, ok)
		}
	})

	t.Run("bad-proof-bytes", func(t *testing.T) {
		bad := append([]byte(nil), proof...)
		bad[5] ^= 0xff
		ok, err := VerifyEmptySectorUpdateProof(cc.cfg, bad, commROld, commRNew, commDNew)
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = VerifyEmptySectorUpdateProof(cc.cfg, proof[:len(proof)-1], commROld, commRNew, commDNew)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("bad-vanilla", func(t *testing.T) {
		b, err := vanilla[0].Marshal()
		require.NoError(t, err)
		bad, err := UnmarshalPartitionProof(b)
		require.NoError(t, err)
		bad.Challenges[0] = (bad.Challenges[0] + 1) % cc.cfg.Nodes()

		ok, err := VerifySinglePartitionProof(cc.cfg, bad, commROld, commRNew, commDNew)
		require.NoError(t, err)
		require.False(t, ok)

		tampered := append([]*PartitionProof{bad}, vanilla[1:]...)
		_, err = GenerateEmptySectorUpdateProofWithVanilla(ctx, cc.cfg, tampered, commROld, commRNew, commDNew)
		require.Error(t, err)

		// a swapped leaf breaks the encoding relation
		bad, err = UnmarshalPartitionProof(b)
		require.NoError(t, err)
		bad.New[0].Leaf = bad.Old[0].Leaf
		ok, err = VerifySinglePartitionProof(cc.cfg, bad, commROld, commRNew, commDNew)
		require.NoError(t, err)
		require.False(t, ok)

		_, err = GenerateEmptySectorUpdateProofWithVanilla(ctx, cc.cfg, nil, commROld, commRNew, commDNew)
		require.Error(t, err)
	})

	require.Equal(t, before, snapshot(t, cc.key.CacheDir))
}

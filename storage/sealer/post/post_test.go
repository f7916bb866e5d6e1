package post

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/fr32"
	"github.com/filecoin-project/sector-proofs/storage/sealer/porep"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func init() {
	_ = logging.SetLogLevel("*", "INFO")
}

// makeReplicas builds replica trees over random sealed files.
func makeReplicas(t *testing.T, ids ...abi.SectorNumber) []PrivateSectorInfo {
	cfg, err := proofcfg.NewPoRepConfig(abi.RegisteredSealProof_StackedDrg2KiBV1_1, proofcfg.V1_1_0)
	require.NoError(t, err)

	dir := t.TempDir()
	out := make([]PrivateSectorInfo, len(ids))
	for i, id := range ids {
		r := rand.New(rand.NewSource(int64(id)))
		raw := make([]byte, abi.PaddedPieceSize(cfg.SectorSize).Unpadded())
		_, _ = r.Read(raw)
		sealed := make([]byte, cfg.SectorSize)
		fr32.Pad(raw, sealed)

		ri := PrivateSectorInfo{
			CacheDir:   filepath.Join(dir, storiface.SectorName(abi.SectorID{Miner: 1000, Number: id}), "cache"),
			SealedPath: filepath.Join(dir, storiface.SectorName(abi.SectorID{Miner: 1000, Number: id})+".sealed"),
		}
		require.NoError(t, os.WriteFile(ri.SealedPath, sealed, 0644))

		commR, err := porep.FauxRep(context.TODO(), cfg, ri.CacheDir, ri.SealedPath)
		require.NoError(t, err)
		ri.SectorInfo = SectorInfo{SectorNumber: id, CommR: commR}
		out[i] = ri
	}
	return out
}

func publicInfo(replicas []PrivateSectorInfo) []SectorInfo {
	out := make([]SectorInfo, len(replicas))
	for i, r := range replicas {
		out[i] = r.SectorInfo
	}
	return out
}

func testRandomness(b byte) abi.PoStRandomness {
	r := make(abi.PoStRandomness, 32)
	for i := range r {
		r[i] = b + byte(i)
	}
	return r
}

func testProver(t *testing.T) storiface.ProverID {
	p, err := storiface.ToProverID(1000)
	require.NoError(t, err)
	return p
}

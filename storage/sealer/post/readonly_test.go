package post

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
)

// makeReadOnly drops write permission from the replica and its cache,
// restoring it when the test ends so the temp dir can be removed.
func makeReadOnly(t *testing.T, r PrivateSectorInfo) {
	entries, err := os.ReadDir(r.CacheDir)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(r.SealedPath, 0444))
	for _, e := range entries {
		require.NoError(t, os.Chmod(filepath.Join(r.CacheDir, e.Name()), 0444))
	}
	require.NoError(t, os.Chmod(r.CacheDir, 0555))

	t.Cleanup(func() {
		_ = os.Chmod(r.CacheDir, 0755)
		_ = os.Chmod(r.SealedPath, 0644)
		for _, e := range entries {
			_ = os.Chmod(filepath.Join(r.CacheDir, e.Name()), 0644)
		}
	})
}

func TestReadOnlyReplicas(t *testing.T) {
	ctx := context.TODO()
	cfg := windowConfig(t)
	prover := testProver(t)
	rand := testRandomness(5)

	replicas := makeReplicas(t, 1, 2, 3)
	for _, r := range replicas {
		makeReadOnly(t, r)
	}

	proofs, err := NewProver(2).GenerateWindowPoSt(ctx, cfg, rand, replicas, prover)
	require.NoError(t, err)
	ok, err := VerifyWindowPoSt(cfg, rand, publicInfo(replicas), prover, proofs)
	require.NoError(t, err)
	require.True(t, ok)

	ids := []abi.SectorNumber{1, 2, 3}
	chs, err := GenerateFallbackSectorChallenges(cfg, rand, ids)
	require.NoError(t, err)

	vanilla := make([]*VanillaProof, len(replicas))
	for i, r := range replicas {
		vanilla[i], err = GenerateSingleVanillaProof(cfg, r, chs[r.SectorNumber])
		require.NoError(t, err)
	}

	var parts []*PartitionProof
	for k := 0; k < PartitionCount(cfg, len(vanilla)); k++ {
		end := (k + 1) * cfg.SectorCount
		if end > len(vanilla) {
			end = len(vanilla)
		}
		part, err := GenerateSingleWindowPoStWithVanilla(ctx, cfg, rand, prover, vanilla[k*cfg.SectorCount:end], k)
		require.NoError(t, err)
		parts = append(parts, part)
	}
	merged, err := MergeWindowPoStPartitionProofs(cfg, parts)
	require.NoError(t, err)
	require.Equal(t, proofs[0].ProofBytes, merged.ProofBytes)

	wcfg, err := proofcfg.NewWinningPoStConfig(2*proofcfg.KiB, proofcfg.V1_1_0)
	require.NoError(t, err)
	wproofs, err := GenerateWinningPoSt(ctx, wcfg, rand, replicas[:1], prover)
	require.NoError(t, err)
	ok, err = VerifyWinningPoSt(wcfg, rand, publicInfo(replicas[:1]), prover, wproofs)
	require.NoError(t, err)
	require.True(t, ok)
}

package post

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func TestFaultySectors(t *testing.T) {
	ctx := context.TODO()
	cfg := windowConfig(t)
	prover := testProver(t)
	rand := testRandomness(11)

	replicas := makeReplicas(t, 1, 2, 3, 4, 5, 6)

	// 2: truncated replica
	require.NoError(t, os.Truncate(replicas[1].SealedPath, 1024))
	// 4: missing tree-r-last
	require.NoError(t, os.Remove(filepath.Join(replicas[3].CacheDir, proofpaths.TreeRLastFiles(cfg.Shape.BaseTrees())[0])))
	// 5: p_aux doesn't match the public comm_r
	paux, err := sectorcache.ReadPAux(replicas[4].CacheDir)
	require.NoError(t, err)
	paux.CommC[0] ^= 1
	require.NoError(t, sectorcache.WritePAux(replicas[4].CacheDir, paux))
	// 6: replica bits flipped, size unchanged
	sealed, err := os.ReadFile(replicas[5].SealedPath)
	require.NoError(t, err)
	for i := range sealed {
		sealed[i] ^= 0xff
	}
	require.NoError(t, os.WriteFile(replicas[5].SealedPath, sealed, 0644))

	p := NewProver(2)
	proofs, err := p.GenerateWindowPoSt(ctx, cfg, rand, replicas, prover)
	require.Error(t, err)
	require.Nil(t, proofs)

	require.True(t, xerrors.Is(err, storiface.ErrFaultySectors))
	faulty, ok := storiface.IsFaultySectors(err)
	require.True(t, ok)
	require.Equal(t, []abi.SectorNumber{2, 4, 5, 6}, faulty)

	var merr *multierror.Error
	require.True(t, xerrors.As(err, &merr))
	require.Len(t, merr.Errors, 4)

	// the healthy sectors still prove on their own
	healthy := []PrivateSectorInfo{replicas[0], replicas[2]}
	proofs, err = p.GenerateWindowPoSt(ctx, cfg, rand, healthy, prover)
	require.NoError(t, err)
	ok, err = VerifyWindowPoSt(cfg, rand, publicInfo(healthy), prover, proofs)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = p.GenerateVanillaProofs(ctx, cfg, rand, []PrivateSectorInfo{replicas[0], replicas[0]})
	require.Error(t, err)
	require.False(t, xerrors.Is(err, storiface.ErrFaultySectors))
}

func TestWrongCommRVanilla(t *testing.T) {
	cfg := windowConfig(t)
	replicas := makeReplicas(t, 1)

	r := replicas[0]
	r.CommR[3] ^= 1
	_, err := GenerateSingleVanillaProof(cfg, r, []uint64{1, 2, 3})
	require.True(t, xerrors.Is(err, storiface.ErrInvalidCache), err)
}

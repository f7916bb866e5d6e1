package porep

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
)

func TestPreCommit1Resume(t *testing.T) {
	ctx := context.TODO()
	ts := newTestSector(t, 5)

	p1, err := SealPreCommitPhase1(ctx, ts.cfg, ts.cache, ts.staged, ts.sealed, ts.prover, ts.id, ts.ticket, ts.pieces)
	require.NoError(t, err)

	layer := func(l int) string { return filepath.Join(ts.cache, proofpaths.LayerFileName(l)) }

	orig := make([][]byte, ts.cfg.Layers)
	for l := range orig {
		orig[l], err = os.ReadFile(layer(l + 1))
		require.NoError(t, err)
	}

	require.NoError(t, os.Remove(layer(2)))
	st, err := sectorcache.LayerStatus(ts.cache, ts.cfg)
	require.NoError(t, err)
	require.Equal(t, []sectorcache.LayerState{sectorcache.LayerPresent, sectorcache.LayerMissing}, st)

	// a precommit2 against the damaged cache must not go through
	_, err = SealPreCommitPhase2(ctx, ts.cfg, p1, ts.cache, ts.sealed)
	require.Error(t, err)

	l1, err := os.Stat(layer(1))
	require.NoError(t, err)

	again, err := SealPreCommitPhase1(ctx, ts.cfg, ts.cache, ts.staged, ts.sealed, ts.prover, ts.id, ts.ticket, ts.pieces)
	require.NoError(t, err)
	require.Equal(t, p1.Cache, again.Cache)

	for l := range orig {
		b, err := os.ReadFile(layer(l + 1))
		require.NoError(t, err)
		require.Equal(t, orig[l], b, "layer %d", l+1)
	}

	// the intact layer was left alone
	l1again, err := os.Stat(layer(1))
	require.NoError(t, err)
	require.Equal(t, l1.ModTime(), l1again.ModTime())

	// a corrupted layer is rewritten
	bad := append([]byte{}, orig[0]...)
	bad[10] ^= 0xff
	require.NoError(t, os.WriteFile(layer(1), bad, 0644))
	ok, err := sectorcache.VerifyLayer(layer(1), p1.Cache.Layers[0])
	require.NoError(t, err)
	require.False(t, ok)

	_, err = SealPreCommitPhase1(ctx, ts.cfg, ts.cache, ts.staged, ts.sealed, ts.prover, ts.id, ts.ticket, ts.pieces)
	require.NoError(t, err)
	b, err := os.ReadFile(layer(1))
	require.NoError(t, err)
	require.Equal(t, orig[0], b)

	_, err = SealPreCommitPhase2(ctx, ts.cfg, again, ts.cache, ts.sealed)
	require.NoError(t, err)
}

func TestPreCommit2Repeatable(t *testing.T) {
	ctx := context.TODO()
	ts := newTestSector(t, 6)

	p1, pre := ts.precommit(t)

	sealed, err := os.ReadFile(ts.sealed)
	require.NoError(t, err)

	pre2, err := SealPreCommitPhase2(ctx, ts.cfg, p1, ts.cache, ts.sealed)
	require.NoError(t, err)
	require.Equal(t, pre, pre2)

	sealed2, err := os.ReadFile(ts.sealed)
	require.NoError(t, err)
	require.Equal(t, sealed, sealed2)
}

func TestPreCommitLeavesNoScratch(t *testing.T) {
	ts := newTestSector(t, 7)
	ts.precommit(t)

	entries, err := os.ReadDir(ts.cache)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), "sc-labels-")
		require.NotContains(t, e.Name(), "sc-columns-")
	}

	for _, name := range proofpaths.TreeCFiles(ts.cfg.Shape.BaseTrees()) {
		_, err := os.Stat(filepath.Join(ts.cache, name))
		require.NoError(t, err)
	}
}

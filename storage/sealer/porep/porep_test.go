package porep

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func init() {
	_ = logging.SetLogLevel("*", "INFO")
}

type testSector struct {
	cfg proofcfg.PoRepConfig

	staged, sealed, cache string

	data   []byte
	pieces []abi.PieceInfo

	prover storiface.ProverID
	id     abi.SectorNumber
	ticket storiface.Ticket
}

func newTestSector(t *testing.T, seed int64) *testSector {
	cfg, err := proofcfg.NewPoRepConfig(abi.RegisteredSealProof_StackedDrg2KiBV1_1, proofcfg.V1_1_0)
	require.NoError(t, err)

	dir := t.TempDir()
	ts := &testSector{
		cfg:    cfg,
		staged: filepath.Join(dir, "staged"),
		sealed: filepath.Join(dir, "sealed"),
		cache:  filepath.Join(dir, "cache"),
		id:     abi.SectorNumber(seed),
	}

	r := rand.New(rand.NewSource(seed))
	size := abi.PaddedPieceSize(cfg.SectorSize).Unpadded()
	ts.data = make([]byte, size)
	_, _ = r.Read(ts.data)
	_, _ = r.Read(ts.ticket[:])

	ts.prover, err = storiface.ToProverID(1000)
	require.NoError(t, err)

	f, err := os.Create(ts.staged)
	require.NoError(t, err)
	pi, err := AddPiece(context.TODO(), cfg.SectorSize, nil, bytes.NewReader(ts.data), size, f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ts.pieces = []abi.PieceInfo{pi}
	return ts
}

func (ts *testSector) precommit(t *testing.T) (*PreCommit1Out, PreCommitOutput) {
	ctx := context.TODO()

	p1, err := SealPreCommitPhase1(ctx, ts.cfg, ts.cache, ts.staged, ts.sealed, ts.prover, ts.id, ts.ticket, ts.pieces)
	require.NoError(t, err)

	// precommit1 output travels as opaque bytes
	b, err := p1.Marshal()
	require.NoError(t, err)
	p1, err = UnmarshalPreCommit1Out(b)
	require.NoError(t, err)

	pre, err := SealPreCommitPhase2(ctx, ts.cfg, p1, ts.cache, ts.sealed)
	require.NoError(t, err)
	return p1, pre
}

func (ts *testSector) commit(t *testing.T, pre PreCommitOutput, seed storiface.Seed) SealProof {
	ctx := context.TODO()

	c1, err := SealCommitPhase1(ctx, ts.cfg, ts.cache, ts.sealed, ts.prover, ts.id, ts.ticket, seed, pre, ts.pieces)
	require.NoError(t, err)

	b, err := c1.Marshal()
	require.NoError(t, err)
	c1, err = UnmarshalCommit1Out(b)
	require.NoError(t, err)

	proof, err := SealCommitPhase2(ctx, ts.cfg, c1, ts.prover, ts.id)
	require.NoError(t, err)
	return proof
}

func abiUnpadded(n int) abi.UnpaddedPieceSize {
	return abi.UnpaddedPieceSize(n)
}

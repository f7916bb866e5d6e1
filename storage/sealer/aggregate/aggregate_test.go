package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/porep"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

type sealed struct {
	id     abi.SectorNumber
	ticket storiface.Ticket
	seed   storiface.Seed
	pre    porep.PreCommitOutput
	proof  porep.SealProof
}

func sealSectors(t *testing.T, cfg proofcfg.PoRepConfig, prover storiface.ProverID, n int) []sealed {
	ctx := context.TODO()
	out := make([]sealed, n)
	for i := range out {
		dir := t.TempDir()
		s := sealed{id: abi.SectorNumber(i + 1)}

		r := rand.New(rand.NewSource(int64(i)))
		data := make([]byte, abi.PaddedPieceSize(cfg.SectorSize).Unpadded())
		_, _ = r.Read(data)
		_, _ = r.Read(s.ticket[:])
		_, _ = r.Read(s.seed[:])

		staged := filepath.Join(dir, "staged")
		f, err := os.Create(staged)
		require.NoError(t, err)
		pi, err := porep.AddPiece(ctx, cfg.SectorSize, nil, bytes.NewReader(data), abi.UnpaddedPieceSize(len(data)), f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		pieces := []abi.PieceInfo{pi}

		cache, sealedPath := filepath.Join(dir, "cache"), filepath.Join(dir, "sealed")
		p1, err := porep.SealPreCommitPhase1(ctx, cfg, cache, staged, sealedPath, prover, s.id, s.ticket, pieces)
		require.NoError(t, err)
		s.pre, err = porep.SealPreCommitPhase2(ctx, cfg, p1, cache, sealedPath)
		require.NoError(t, err)
		c1, err := porep.SealCommitPhase1(ctx, cfg, cache, sealedPath, prover, s.id, s.ticket, s.seed, s.pre, pieces)
		require.NoError(t, err)
		s.proof, err = porep.SealCommitPhase2(ctx, cfg, c1, prover, s.id)
		require.NoError(t, err)

		out[i] = s
	}
	return out
}

func TestAggregateSealProofs(t *testing.T) {
	cfg, err := proofcfg.NewPoRepConfig(abi.RegisteredSealProof_StackedDrg2KiBV1_1, proofcfg.V1_1_0)
	require.NoError(t, err)
	prover, err := storiface.ToProverID(1000)
	require.NoError(t, err)

	sectors := sealSectors(t, cfg, prover, 3)

	var (
		commRs []storiface.Commitment
		seeds  []storiface.Seed
		proofs []porep.SealProof
		inputs []SealInputs
	)
	for _, s := range sectors {
		commRs = append(commRs, s.pre.CommR)
		seeds = append(seeds, s.seed)
		proofs = append(proofs, s.proof)
		inputs = append(inputs, GetSealInputs(cfg, s.pre.CommR, s.pre.CommD, prover, s.id, s.ticket, s.seed))
	}

	for _, v := range []abi.RegisteredAggregationProof{abi.RegisteredAggregationProof_SnarkPackV1, abi.RegisteredAggregationProof_SnarkPackV2} {
		agg, err := AggregateSealProofs(cfg, commRs, seeds, proofs, v)
		require.NoError(t, err)
		require.Equal(t, uint64(3), agg.Count)
		require.Len(t, agg.Commitments, 2)

		ok, err := VerifyAggregateSealProofs(cfg, agg, commRs, seeds, inputs, v)
		require.NoError(t, err)
		require.True(t, ok)

		other := abi.RegisteredAggregationProof_SnarkPackV1
		if v == other {
			other = abi.RegisteredAggregationProof_SnarkPackV2
		}
		ok, err = VerifyAggregateSealProofs(cfg, agg, commRs, seeds, inputs, other)
		require.NoError(t, err)
		require.False(t, ok)

		// a sector's statement swapped for another's
		swapped := append([]SealInputs{}, inputs...)
		swapped[0], swapped[1] = swapped[1], swapped[0]
		ok, err = VerifyAggregateSealProofs(cfg, agg, commRs, seeds, swapped, v)
		require.NoError(t, err)
		require.False(t, ok)

		badSeeds := append([]storiface.Seed{}, seeds...)
		badSeeds[2][0] ^= 1
		ok, err = VerifyAggregateSealProofs(cfg, agg, commRs, badSeeds, inputs, v)
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = VerifyAggregateSealProofs(cfg, agg, commRs[:2], seeds[:2], inputs[:2], v)
		require.NoError(t, err)
		require.False(t, ok)

		enc, err := agg.MarshalBinary()
		require.NoError(t, err)
		js, err := json.Marshal(agg)
		require.NoError(t, err)
		require.Less(t, len(enc), len(js))

		dec, err := DecodeProof(enc, v)
		require.NoError(t, err)
		require.Equal(t, agg, dec)
		enc2, err := dec.MarshalBinary()
		require.NoError(t, err)
		require.Equal(t, enc, enc2)

		_, err = DecodeProof(enc, other)
		require.True(t, xerrors.Is(err, storiface.ErrAggregationVersionMismatch), err)

		_, err = DecodeProof(enc[:len(enc)-1], v)
		require.Error(t, err)
	}

	v1, err := AggregateSealProofs(cfg, commRs, seeds, proofs, abi.RegisteredAggregationProof_SnarkPackV1)
	require.NoError(t, err)
	v2, err := AggregateSealProofs(cfg, commRs, seeds, proofs, abi.RegisteredAggregationProof_SnarkPackV2)
	require.NoError(t, err)
	require.NotEqual(t, v1.Folded, v2.Folded)
}

func TestAggregateRejectsBadInput(t *testing.T) {
	cfg, err := proofcfg.NewPoRepConfig(abi.RegisteredSealProof_StackedDrg2KiBV1_1, proofcfg.V1_1_0)
	require.NoError(t, err)

	_, err = AggregateSealProofs(cfg, nil, nil, nil, abi.RegisteredAggregationProof_SnarkPackV2)
	require.Error(t, err)

	proof := make(porep.SealProof, 192)
	_, err = AggregateSealProofs(cfg, []storiface.Commitment{{}}, nil, []porep.SealProof{proof}, abi.RegisteredAggregationProof_SnarkPackV2)
	require.Error(t, err)

	_, err = AggregateSealProofs(cfg, []storiface.Commitment{{}}, []storiface.Seed{{}}, []porep.SealProof{proof[:191]}, abi.RegisteredAggregationProof_SnarkPackV2)
	require.Error(t, err)

	_, err = AggregateSealProofs(cfg, []storiface.Commitment{{}}, []storiface.Seed{{}}, []porep.SealProof{proof}, abi.RegisteredAggregationProof(7))
	require.Error(t, err)
}

package ffiwrapper

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/storage/sealer/ffiwrapper/basicfs"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

func init() {
	_ = logging.SetLogLevel("*", "INFO")
}

const sealProofType = abi.RegisteredSealProof_StackedDrg2KiBV1_1
const sectorSize = abi.SectorSize(2048)

type sealed struct {
	ref    storiface.SectorRef
	data   []byte
	ticket abi.SealRandomness
	seed   abi.InteractiveSealRandomness
	cids   storiface.SectorCids
	proof  storiface.Proof
}

type harness struct {
	root   string
	sb     *Sealer
	states *sectorstate.Store
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		root:   t.TempDir(),
		states: sectorstate.New(dssync.MutexWrap(datastore.NewMapDatastore())),
	}

	sb, err := New(&basicfs.Provider{Root: h.root}, WithStateStore(h.states), WithProvingParallel(2))
	require.NoError(t, err)
	h.sb = sb
	return h
}

func (h *harness) path(ft storiface.SectorFileType, id abi.SectorID) string {
	return filepath.Join(h.root, ft.String(), storiface.SectorName(id))
}

func randomness(seed byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func (h *harness) seal(t *testing.T, num abi.SectorNumber, seed int64) *sealed {
	ctx := context.TODO()

	s := &sealed{
		ref:    storiface.SectorRef{ID: abi.SectorID{Miner: 1000, Number: num}, ProofType: sealProofType},
		data:   make([]byte, abi.PaddedPieceSize(sectorSize).Unpadded()),
		ticket: randomness(byte(num)),
		seed:   randomness(byte(num) + 100),
	}
	_, _ = rand.New(rand.NewSource(seed)).Read(s.data)

	pi, err := h.sb.AddPiece(ctx, s.ref, nil, abi.UnpaddedPieceSize(len(s.data)), bytes.NewReader(s.data))
	require.NoError(t, err)
	pieces := []abi.PieceInfo{pi}

	p1, err := h.sb.SealPreCommit1(ctx, s.ref, s.ticket, pieces)
	require.NoError(t, err)

	s.cids, err = h.sb.SealPreCommit2(ctx, s.ref, p1)
	require.NoError(t, err)
	require.Equal(t, pi.PieceCID, s.cids.Unsealed)

	c1, err := h.sb.SealCommit1(ctx, s.ref, s.ticket, s.seed, pieces, s.cids)
	require.NoError(t, err)

	s.proof, err = h.sb.SealCommit2(ctx, s.ref, c1)
	require.NoError(t, err)

	require.NoError(t, h.sb.FinalizeSector(ctx, s.ref))
	return s
}

func (s *sealed) verifyInfo() proof.SealVerifyInfo {
	return proof.SealVerifyInfo{
		SealProof:             s.ref.ProofType,
		SectorID:              s.ref.ID,
		Randomness:            s.ticket,
		InteractiveRandomness: s.seed,
		Proof:                 s.proof,
		SealedCID:             s.cids.Sealed,
		UnsealedCID:           s.cids.Unsealed,
	}
}

func (s *sealed) postInfo(sealedCID cid.Cid) proof.SectorInfo {
	return proof.SectorInfo{SealProof: s.ref.ProofType, SectorNumber: s.ref.ID.Number, SealedCID: sealedCID}
}

func TestSealPoStAggregate(t *testing.T) {
	ctx := context.TODO()
	h := newHarness(t)

	s1 := h.seal(t, 1, 1)
	s2 := h.seal(t, 2, 2)

	for _, s := range []*sealed{s1, s2} {
		ok, err := h.sb.VerifySeal(s.verifyInfo())
		require.NoError(t, err)
		require.True(t, ok)

		si, err := h.states.Get(ctx, s.ref.ID.Number)
		require.NoError(t, err)
		require.Equal(t, sectorstate.Finalized, si.State)
		require.Equal(t, []byte(s.proof), si.Proof)
	}

	bad := s1.verifyInfo()
	bad.Number = 3
	ok, err := h.sb.VerifySeal(bad)
	require.NoError(t, err)
	require.False(t, ok)

	t.Run("unseal", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, h.sb.UnsealPiece(ctx, s1.ref, 0, abi.UnpaddedPieceSize(len(s1.data)), s1.ticket, s1.cids.Unsealed, &buf))
		require.Equal(t, s1.data, buf.Bytes())

		buf.Reset()
		require.NoError(t, h.sb.UnsealPiece(ctx, s2.ref, 508, 508, s2.ticket, s2.cids.Unsealed, &buf))
		require.Equal(t, s2.data[508:1016], buf.Bytes())
	})

	t.Run("aggregate", func(t *testing.T) {
		info := proof.AggregateSealVerifyProofAndInfos{
			Miner:          1000,
			SealProof:      sealProofType,
			AggregateProof: abi.RegisteredAggregationProof_SnarkPackV2,
		}
		for _, s := range []*sealed{s1, s2} {
			info.Infos = append(info.Infos, proof.AggregateSealVerifyInfo{
				Number:                s.ref.ID.Number,
				Randomness:            s.ticket,
				InteractiveRandomness: s.seed,
				SealedCID:             s.cids.Sealed,
				UnsealedCID:           s.cids.Unsealed,
			})
		}

		agg, err := h.sb.AggregateSealProofs(info, [][]byte{s1.proof, s2.proof})
		require.NoError(t, err)
		info.Proof = agg

		ok, err := h.sb.VerifyAggregateSeals(info)
		require.NoError(t, err)
		require.True(t, ok)

		info.AggregateProof = abi.RegisteredAggregationProof_SnarkPackV1
		ok, err = h.sb.VerifyAggregateSeals(info)
		require.NoError(t, err)
		require.False(t, ok)

		_, err = h.sb.AggregateSealProofs(info, [][]byte{s1.proof})
		require.Error(t, err)
	})

	t.Run("winning", func(t *testing.T) {
		postRand := abi.PoStRandomness(randomness(7))

		chs, err := h.sb.GenerateWinningPoStSectorChallenge(ctx, abi.RegisteredPoStProof_StackedDrgWinning2KiBV1, 1000, postRand, 2)
		require.NoError(t, err)
		require.Len(t, chs, 1)
		require.Less(t, chs[0], uint64(2))

		challenged := []proof.SectorInfo{[]*sealed{s1, s2}[chs[0]].postInfo([]*sealed{s1, s2}[chs[0]].cids.Sealed)}
		proofs, err := h.sb.GenerateWinningPoSt(ctx, 1000, challenged, postRand)
		require.NoError(t, err)

		ok, err := h.sb.VerifyWinningPoSt(ctx, proof.WinningPoStVerifyInfo{
			Randomness:        postRand,
			Proofs:            proofs,
			ChallengedSectors: challenged,
			Prover:            1000,
		})
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = h.sb.VerifyWinningPoSt(ctx, proof.WinningPoStVerifyInfo{
			Randomness:        postRand,
			Proofs:            proofs,
			ChallengedSectors: challenged,
			Prover:            1001,
		})
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("window", func(t *testing.T) {
		postRand := abi.PoStRandomness(randomness(9))
		sectors := []proof.SectorInfo{s1.postInfo(s1.cids.Sealed), s2.postInfo(s2.cids.Sealed)}

		proofs, skipped, err := h.sb.GenerateWindowPoSt(ctx, 1000, sectors, postRand)
		require.NoError(t, err)
		require.Empty(t, skipped)

		ok, err := h.sb.VerifyWindowPoSt(ctx, proof.WindowPoStVerifyInfo{
			Randomness:        postRand,
			Proofs:            proofs,
			ChallengedSectors: sectors,
			Prover:            1000,
		})
		require.NoError(t, err)
		require.True(t, ok)

		bad, err := h.sb.CheckProvable(ctx, proofs[0].PoStProof, []storiface.SectorRef{s1.ref, s2.ref}, func(ctx context.Context, id abi.SectorID) (cid.Cid, bool, error) {
			return []*sealed{s1, s2}[id.Number-1].cids.Sealed, false, nil
		})
		require.NoError(t, err)
		require.Empty(t, bad)
	})

	t.Run("faulty", func(t *testing.T) {
		postRand := abi.PoStRandomness(randomness(11))
		sectors := []proof.SectorInfo{s1.postInfo(s1.cids.Sealed), s2.postInfo(s2.cids.Sealed)}

		require.NoError(t, os.Truncate(h.path(storiface.FTSealed, s2.ref.ID), 1024))

		bad, err := h.sb.CheckProvable(ctx, abi.RegisteredPoStProof_StackedDrgWindow2KiBV1, []storiface.SectorRef{s1.ref, s2.ref}, nil)
		require.NoError(t, err)
		require.Len(t, bad, 1)
		require.Contains(t, bad, s2.ref.ID)

		proofs, skipped, err := h.sb.GenerateWindowPoSt(ctx, 1000, sectors, postRand)
		require.NoError(t, err)
		require.Equal(t, []abi.SectorID{s2.ref.ID}, skipped)

		ok, err := h.sb.VerifyWindowPoSt(ctx, proof.WindowPoStVerifyInfo{
			Randomness:        postRand,
			Proofs:            proofs,
			ChallengedSectors: sectors[:1],
			Prover:            1000,
		})
		require.NoError(t, err)
		require.True(t, ok)

		_, skipped, err = h.sb.GenerateWindowPoSt(ctx, 1000, sectors[1:], postRand)
		require.ErrorIs(t, err, storiface.ErrFaultySectors)
		require.Equal(t, []abi.SectorID{s2.ref.ID}, skipped)
	})
}

func TestReplicaUpdate(t *testing.T) {
	ctx := context.TODO()
	h := newHarness(t)

	ref := storiface.SectorRef{ID: abi.SectorID{Miner: 1000, Number: 5}, ProofType: sealProofType}
	ticket, seed := abi.SealRandomness(randomness(1)), abi.InteractiveSealRandomness(randomness(2))

	pi, err := h.sb.AddCommittedCapacity(ctx, ref)
	require.NoError(t, err)
	pieces := []abi.PieceInfo{pi}

	p1, err := h.sb.SealPreCommit1(ctx, ref, ticket, pieces)
	require.NoError(t, err)
	cids, err := h.sb.SealPreCommit2(ctx, ref, p1)
	require.NoError(t, err)
	c1, err := h.sb.SealCommit1(ctx, ref, ticket, seed, pieces, cids)
	require.NoError(t, err)
	_, err = h.sb.SealCommit2(ctx, ref, c1)
	require.NoError(t, err)
	require.NoError(t, h.sb.FinalizeSector(ctx, ref))

	sectorKey, err := os.ReadFile(h.path(storiface.FTSealed, ref.ID))
	require.NoError(t, err)

	data := make([]byte, abi.PaddedPieceSize(sectorSize).Unpadded())
	_, _ = rand.New(rand.NewSource(77)).Read(data)
	newPiece, err := h.sb.AddPiece(ctx, ref, nil, abi.UnpaddedPieceSize(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	staged, err := os.ReadFile(h.path(storiface.FTUnsealed, ref.ID))
	require.NoError(t, err)

	_, err = h.sb.ReplicaUpdate(ctx, ref, cids.Unsealed, []abi.PieceInfo{newPiece})
	require.Error(t, err)

	out, err := h.sb.ReplicaUpdate(ctx, ref, cids.Sealed, []abi.PieceInfo{newPiece})
	require.NoError(t, err)
	require.Equal(t, newPiece.PieceCID, out.NewUnsealed)

	vanilla, err := h.sb.ProveReplicaUpdate1(ctx, ref, cids.Sealed, out.NewSealed, out.NewUnsealed)
	require.NoError(t, err)
	updateProof, err := h.sb.ProveReplicaUpdate2(ctx, ref, cids.Sealed, out.NewSealed, out.NewUnsealed, vanilla)
	require.NoError(t, err)

	info := proof.ReplicaUpdateInfo{
		UpdateProofType:      abi.RegisteredUpdateProof_StackedDrg2KiBV1,
		OldSealedSectorCID:   cids.Sealed,
		NewSealedSectorCID:   out.NewSealed,
		NewUnsealedSectorCID: out.NewUnsealed,
		Proof:                updateProof,
	}
	ok, err := h.sb.VerifyReplicaUpdate(info)
	require.NoError(t, err)
	require.True(t, ok)

	info.NewSealedSectorCID = cids.Sealed
	ok, err = h.sb.VerifyReplicaUpdate(info)
	require.NoError(t, err)
	require.False(t, ok)

	si, err := h.states.Get(ctx, ref.ID.Number)
	require.NoError(t, err)
	require.Equal(t, sectorstate.ReplicaUpdateProven, si.State)
	require.Equal(t, []byte(updateProof), si.UpdateProof)

	// the update replica is what gets proven from now on
	postRand := abi.PoStRandomness(randomness(3))
	sectors := []proof.SectorInfo{{SealProof: sealProofType, SectorNumber: ref.ID.Number, SealedCID: out.NewSealed}}
	proofs, skipped, err := h.sb.GenerateWindowPoSt(ctx, 1000, sectors, postRand)
	require.NoError(t, err)
	require.Empty(t, skipped)
	ok, err = h.sb.VerifyWindowPoSt(ctx, proof.WindowPoStVerifyInfo{Randomness: postRand, Proofs: proofs, ChallengedSectors: sectors, Prover: 1000})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.sb.DecodeReplicaUpdate(ctx, ref, out.NewUnsealed))
	decoded, err := os.ReadFile(h.path(storiface.FTUnsealed, ref.ID))
	require.NoError(t, err)
	require.Equal(t, staged, decoded)

	require.NoError(t, os.Remove(h.path(storiface.FTSealed, ref.ID)))
	require.NoError(t, h.sb.GenerateSectorKeyFromData(ctx, ref, out.NewUnsealed))
	recovered, err := os.ReadFile(h.path(storiface.FTSealed, ref.ID))
	require.NoError(t, err)
	require.Equal(t, sectorKey, recovered)
}

func TestFailedPhaseIsTracked(t *testing.T) {
	ctx := context.TODO()
	h := newHarness(t)

	ref := storiface.SectorRef{ID: abi.SectorID{Miner: 1000, Number: 9}, ProofType: sealProofType}
	pi, err := h.sb.AddCommittedCapacity(ctx, ref)
	require.NoError(t, err)

	p1, err := h.sb.SealPreCommit1(ctx, ref, randomness(4), []abi.PieceInfo{pi})
	require.NoError(t, err)

	_, err = h.sb.SealPreCommit2(ctx, ref, p1[:len(p1)/2])
	require.Error(t, err)

	si, err := h.states.Get(ctx, ref.ID.Number)
	require.NoError(t, err)
	require.Equal(t, sectorstate.Failed, si.State)
	require.Equal(t, sectorstate.PreCommit1Done, si.FailedIn)
	require.NotEmpty(t, si.Err)

	// a rerun resumes from the failed phase
	_, err = h.sb.SealPreCommit2(ctx, ref, p1)
	require.NoError(t, err)

	si, err = h.states.Get(ctx, ref.ID.Number)
	require.NoError(t, err)
	require.Equal(t, sectorstate.PreCommit2Done, si.State)
	require.Empty(t, si.Err)
}

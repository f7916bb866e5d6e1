package proofcfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
)

func TestEverySizeHasValidShape(t *testing.T) {
	for _, ss := range SupportedSizes() {
		shape, err := ShapeFor(ss)
		require.NoError(t, err)

		per, err := shape.BaseLeaves(Nodes(ss))
		require.NoError(t, err, ss.ShortString())
		require.Equal(t, Nodes(ss), per*uint64(shape.BaseTrees()))

		spt, err := CommPProof(ss)
		require.NoError(t, err)
		pss, err := spt.SectorSize()
		require.NoError(t, err)
		require.GreaterOrEqual(t, pss, ss)
	}
}

func TestRegisteredProofs(t *testing.T) {
	for _, spt := range registeredSealProofs {
		cfg, err := NewPoRepConfig(spt, V1_1_0)
		require.NoError(t, err)
		require.Equal(t, abi.SealProofInfos[spt].SectorSize, cfg.SectorSize)
		require.Equal(t, byte(spt), cfg.PoRepID[0])

		wcfg, err := NewWindowPoStConfig(cfg.SectorSize, V1_1_0)
		require.NoError(t, err)
		wpp, err := RegisteredPoStProof(spt, WindowPoSt)
		require.NoError(t, err)
		require.Equal(t, wpp, wcfg.Proof)

		byProof, err := PoStConfigFor(wpp, V1_1_0)
		require.NoError(t, err)
		require.Equal(t, wcfg, byProof)

		// the deprecated V1 window types resolve to V1_1
		v1, err := spt.RegisteredWindowPoStProof()
		require.NoError(t, err)
		byProof, err = PoStConfigFor(v1, V1_1_0)
		require.NoError(t, err)
		require.Equal(t, wcfg, byProof)
	}

	wcfg, err := NewWindowPoStConfig(2*KiB, V1_1_0)
	require.NoError(t, err)
	require.Equal(t, abi.RegisteredPoStProof_StackedDrgWindow2KiBV1_1, wcfg.Proof)

	cfg, err := NewPoRepConfig(abi.RegisteredSealProof_StackedDrg32GiBV1_1, V1_1_0)
	require.NoError(t, err)
	require.Equal(t, merkle.ShapeSub8_8, cfg.Shape)
	require.Equal(t, 11, cfg.Layers)
	require.Equal(t, 10, cfg.Partitions)
	require.Equal(t, 18, cfg.ChallengesPerPartition)
}

func TestWindowSectorCountOverride(t *testing.T) {
	cfg, err := NewWindowPoStConfig(2*KiB, V1_1_0)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.SectorCount)

	require.NoError(t, SetWindowPoStSectorCount(2*KiB, 5))
	defer func() {
		require.NoError(t, SetWindowPoStSectorCount(2*KiB, 2))
	}()

	over, err := NewWindowPoStConfig(2*KiB, V1_1_0)
	require.NoError(t, err)
	require.Equal(t, 5, over.SectorCount)
	// configs built earlier keep their value
	require.Equal(t, 2, cfg.SectorCount)

	require.Error(t, SetWindowPoStSectorCount(3*KiB, 2))
	require.Error(t, SetWindowPoStSectorCount(2*KiB, 0))
}

func TestUpdateConfig(t *testing.T) {
	small, err := SectorUpdateConfigFor(32 * KiB)
	require.NoError(t, err)
	require.Equal(t, 1, small.Partitions)
	require.Equal(t, 4, small.ChallengesPerPartition)
	require.Equal(t, 3, small.HSelect)

	large, err := SectorUpdateConfigFor(8 * MiB)
	require.NoError(t, err)
	require.Equal(t, 16, large.Partitions)
	require.Equal(t, 86, large.ChallengesPerPartition)
	require.Equal(t, 7, large.HSelect)

	_, err = SectorUpdateConfigFor(3 * KiB)
	require.Error(t, err)
}

func TestAPIVersion(t *testing.T) {
	v, err := ParseAPIVersion("1.2.0")
	require.NoError(t, err)
	require.Equal(t, V1_2_0, v)
	require.Equal(t, "1.1.0", V1_1_0.String())

	_, err = PoRepConfigForSize(2*KiB, PoRepID{}, APIVersion(9))
	require.Error(t, err)
}

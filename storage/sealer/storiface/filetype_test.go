package storiface

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"
)

func TestFileTypeStrings(t *testing.T) {
	for _, ft := range PathTypes {
		parsed, err := TypeFromString(ft.String())
		require.NoError(t, err)
		require.Equal(t, ft, parsed)
	}

	_, err := TypeFromString("layers")
	require.Error(t, err)

	require.Equal(t, []string{"sealed", "cache"}, (FTSealed | FTCache).Strings())
	require.True(t, FTAll.Has(FTUpdateCache))
	require.False(t, (FTSealed | FTCache).Has(FTUnsealed))
}

func TestSpaceUse(t *testing.T) {
	ssize := abi.SectorSize(2048)

	need, err := (FTSealed | FTCache).SealSpaceUse(ssize)
	require.NoError(t, err)
	require.Equal(t, uint64(2048+141*2048/10), need)

	fin, err := (FTSealed | FTCache).StoreSpaceUse(ssize)
	require.NoError(t, err)
	require.Equal(t, uint64(2048+2048/10), fin)
}

func TestSectorName(t *testing.T) {
	sid := abi.SectorID{Miner: 1000, Number: 42}

	name := SectorName(sid)
	require.Equal(t, "s-t01000-42", name)

	parsed, err := ParseSectorID(name)
	require.NoError(t, err)
	require.Equal(t, sid, parsed)

	_, err = ParseSectorID("sector-42")
	require.Error(t, err)
}

func TestPathByType(t *testing.T) {
	var sp SectorPaths
	SetPathByType(&sp, FTCache, "/tmp/cache/s-t01000-1")
	SetPathByType(&sp, FTSealed, "/tmp/sealed/s-t01000-1")

	p, err := PathByType(sp, FTCache)
	require.NoError(t, err)
	require.Equal(t, "/tmp/cache/s-t01000-1", p)

	_, err = PathByType(sp, FTCache|FTSealed)
	require.Error(t, err)
}

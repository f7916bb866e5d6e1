package proofpaths

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheFileNames(t *testing.T) {
	require.Equal(t, "sc-02-data-layer-1.dat", LayerFileName(1))
	require.True(t, IsLayerFile(LayerFileName(11)))
	require.False(t, IsLayerFile(TreeDFileName()))
	require.False(t, IsLayerFile(PAuxFileName))

	require.Equal(t, []string{"sc-02-data-tree-r-last.dat"}, TreeRLastFiles(1))
	require.Equal(t, []string{"sc-02-data-tree-c-0.dat", "sc-02-data-tree-c-1.dat"}, TreeCFiles(2))
	require.Len(t, TreeRLastFiles(16), 16)
	require.Equal(t, "sc-02-data-tree-r-last-15.dat", TreeRLastFileName(15, 16))
}

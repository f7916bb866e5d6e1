package proofpaths

import (
	"fmt"
	"strings"
)

var dataFilePrefix = "sc-02-data-"

// LayerMarker identifies layer files; cache clearing keys off it.
const LayerMarker = "data-layer"

const (
	PAuxFileName = "p_aux"
	TAuxFileName = "t_aux"
)

func LayerFileName(layer int) string {
	return fmt.Sprintf("%slayer-%d.dat", dataFilePrefix, layer)
}

func IsLayerFile(name string) bool {
	return strings.Contains(name, LayerMarker)
}

func TreeDFileName() string {
	return dataFilePrefix + "tree-d.dat"
}

// TreeCFileName names the i-th of n tree-c base tree files.
func TreeCFileName(i, n int) string {
	return treeFileName("tree-c", i, n)
}

// TreeRLastFileName names the i-th of n tree-r-last base tree files.
func TreeRLastFileName(i, n int) string {
	return treeFileName("tree-r-last", i, n)
}

func treeFileName(tree string, i, n int) string {
	if n == 1 {
		return fmt.Sprintf("%s%s.dat", dataFilePrefix, tree)
	}
	return fmt.Sprintf("%s%s-%d.dat", dataFilePrefix, tree, i)
}

func TreeCFiles(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = TreeCFileName(i, n)
	}
	return out
}

func TreeRLastFiles(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = TreeRLastFileName(i, n)
	}
	return out
}

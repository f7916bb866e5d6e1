package porep

import (
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/minio/sha256-simd"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
)

const (
	DRGParents      = 6
	ExpanderParents = 8
)

// parent caches are only kept for graphs up to this many nodes
const parentCacheNodes = 1 << 20

type parentSet struct {
	drg [DRGParents]uint64
	exp [ExpanderParents]uint64
}

// graph derives the parents of every node of the stacked graph. Node 0 has no
// parents. The first DRG parent of node i is always i-1, every DRG parent is
// < i; expander parents point into the previous layer.
type graph struct {
	porepID proofcfg.PoRepID
	nodes   uint64

	cache *lru.Cache[uint64, parentSet]
}

type graphKey struct {
	id    proofcfg.PoRepID
	nodes uint64
}

var (
	graphsLk sync.Mutex
	graphs   = map[graphKey]*graph{}
)

func graphFor(id proofcfg.PoRepID, nodes uint64) *graph {
	graphsLk.Lock()
	defer graphsLk.Unlock()

	k := graphKey{id: id, nodes: nodes}
	if g, ok := graphs[k]; ok {
		return g
	}

	g := &graph{porepID: id, nodes: nodes}
	if nodes <= parentCacheNodes {
		c, err := lru.New[uint64, parentSet](int(nodes))
		if err == nil {
			g.cache = c
		}
	}
	graphs[k] = g
	return g
}

// parents returns false for node 0.
func (g *graph) parents(i uint64) (parentSet, bool) {
	if i == 0 {
		return parentSet{}, false
	}
	if g.cache != nil {
		if ps, ok := g.cache.Get(i); ok {
			return ps, true
		}
	}

	var ps parentSet
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], i)

	h := sha256.New()
	_, _ = h.Write(g.porepID[:])
	_, _ = h.Write([]byte("drg"))
	_, _ = h.Write(idx[:])
	d := h.Sum(nil)

	ps.drg[0] = i - 1
	for j := 1; j < DRGParents; j++ {
		ps.drg[j] = uint64(binary.LittleEndian.Uint32(d[(j-1)*4:])) % i
	}

	h.Reset()
	_, _ = h.Write(g.porepID[:])
	_, _ = h.Write([]byte("exp"))
	_, _ = h.Write(idx[:])
	d = h.Sum(d[:0])

	for j := 0; j < ExpanderParents; j++ {
		ps.exp[j] = uint64(binary.LittleEndian.Uint32(d[j*4:])) % g.nodes
	}

	if g.cache != nil {
		g.cache.Add(i, ps)
	}
	return ps, true
}

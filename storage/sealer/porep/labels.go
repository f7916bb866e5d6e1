package porep

import (
	"context"
	"encoding/binary"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
)

// labelNode computes node i of a layer. cur is the layer being labelled and
// must hold every node below i; prev is the previous layer, nil for layer 1.
func labelNode(g *graph, replicaID domain.Node, layer int, i uint64, cur, prev []byte) domain.Node {
	var hdr [4 + 8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(layer))
	binary.LittleEndian.PutUint64(hdr[4:], i)

	parts := make([][]byte, 0, 2+DRGParents+ExpanderParents)
	parts = append(parts, replicaID[:], hdr[:])

	if ps, ok := g.parents(i); ok {
		for _, p := range ps.drg {
			parts = append(parts, cur[p*domain.NodeSize:(p+1)*domain.NodeSize])
		}
		if prev != nil {
			for _, p := range ps.exp {
				parts = append(parts, prev[p*domain.NodeSize:(p+1)*domain.NodeSize])
			}
		}
	}

	return domain.Sha256Trunc(parts...)
}

// labelFromParents recomputes a label from parent values, as a verifier does.
func labelFromParents(replicaID domain.Node, layer int, i uint64, drg, exp []domain.Node) domain.Node {
	var hdr [4 + 8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(layer))
	binary.LittleEndian.PutUint64(hdr[4:], i)

	parts := make([][]byte, 0, 2+len(drg)+len(exp))
	parts = append(parts, replicaID[:], hdr[:])
	for j := range drg {
		parts = append(parts, drg[j][:])
	}
	for j := range exp {
		parts = append(parts, exp[j][:])
	}
	return domain.Sha256Trunc(parts...)
}

// generateLayers labels every layer in order and hands each to fn, which may
// be nil. The layers are built in two scratch mappings under scratchDir and
// data is only valid until fn returns. The mapping holding the last layer is
// returned open and must be closed by the caller.
func generateLayers(ctx context.Context, cfg proofcfg.PoRepConfig, replicaID domain.Node, scratchDir string, fn func(layer int, data []byte) error) (*fsutil.MappedFile, error) {
	g := graphFor(cfg.PoRepID, cfg.Nodes())

	a, err := fsutil.CreateScratch(scratchDir, "sc-labels-*", int64(cfg.SectorSize))
	if err != nil {
		return nil, err
	}
	b, err := fsutil.CreateScratch(scratchDir, "sc-labels-*", int64(cfg.SectorSize))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	fail := func(err error) (*fsutil.MappedFile, error) {
		_ = a.Close()
		_ = b.Close()
		return nil, err
	}

	cur, prev, spare := a, (*fsutil.MappedFile)(nil), b
	for l := 1; l <= cfg.Layers; l++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		var prevData []byte
		if prev != nil {
			prevData = prev.Bytes()
		}
		data := cur.Bytes()
		for i := uint64(0); i < cfg.Nodes(); i++ {
			domain.Put(data, i, labelNode(g, replicaID, l, i, data, prevData))
		}

		if fn != nil {
			if err := fn(l, data); err != nil {
				return fail(err)
			}
		}

		if prev == nil {
			prev, cur = cur, spare
		} else {
			prev, cur = cur, prev
		}
	}

	_ = cur.Close()
	return prev, nil
}

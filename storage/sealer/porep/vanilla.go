package porep

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// ColumnProof opens the labels of one node across all layers against comm_c.
type ColumnProof struct {
	Node      uint64
	Column    []domain.Node
	Inclusion *merkle.Proof
}

// LabelingProof lists the parent labels a node's label at Layer was derived
// from: DRG parents in the same layer, then expander parents in the previous
// one.
type LabelingProof struct {
	Layer   int
	Node    uint64
	Parents []domain.Node
}

type EncodingProof struct {
	Node    uint64
	Key     domain.Node
	Data    domain.Node
	Replica domain.Node
}

// ChallengeProof is the vanilla proof for one challenged node. Columns holds
// the challenged node followed by its DRG and expander parents.
type ChallengeProof struct {
	Challenge      uint64
	CommDProof     *merkle.Proof
	CommRLastProof *merkle.Proof
	Columns        []ColumnProof
	Labels         []LabelingProof
	Encoding       EncodingProof
}

type Commit1Out struct {
	SectorSize abi.SectorSize
	PoRepID    proofcfg.PoRepID
	APIVersion proofcfg.APIVersion

	SectorID  abi.SectorNumber
	CacheDir  string
	ReplicaID domain.Node
	Ticket    storiface.Ticket
	Seed      storiface.Seed

	CommD     storiface.Commitment
	CommR     storiface.Commitment
	CommC     domain.Node
	CommRLast domain.Node

	Partitions [][]ChallengeProof
}

func (o *Commit1Out) Marshal() (storiface.Commit1Out, error) {
	return json.Marshal(o)
}

func UnmarshalCommit1Out(b storiface.Commit1Out) (*Commit1Out, error) {
	var out Commit1Out
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, xerrors.Errorf("decoding commit1 output: %w", err)
	}
	return &out, nil
}

// sealPublicInputs are the statement one partition proof commits to.
func sealPublicInputs(cfg proofcfg.PoRepConfig, replicaID domain.Node, commD, commR storiface.Commitment, partition int, challenges []uint64) []domain.Node {
	out := make([]domain.Node, 0, 6+len(challenges))
	out = append(out,
		replicaID,
		domain.Node(commD),
		domain.Node(commR),
		domain.Node(cfg.PoRepID),
		domain.FromUint64(uint64(partition)),
		domain.FromUint64(uint64(cfg.APIVersion)),
	)
	for _, c := range challenges {
		out = append(out, domain.FromUint64(c))
	}
	return out
}

// sealCircuit checks every vanilla proof of one partition.
type sealCircuit struct {
	cfg       proofcfg.PoRepConfig
	partition int

	replicaID  domain.Node
	commD      storiface.Commitment
	commR      storiface.Commitment
	challenges []uint64

	commC     domain.Node
	commRLast domain.Node
	proofs    []ChallengeProof
}

func (c *sealCircuit) ID() string {
	return c.cfg.CircuitID(c.partition)
}

func (c *sealCircuit) PublicInputs() []domain.Node {
	return sealPublicInputs(c.cfg, c.replicaID, c.commD, c.commR, c.partition, c.challenges)
}

func (c *sealCircuit) Synthesize() error {
	if len(c.proofs) != len(c.challenges) {
		return xerrors.Errorf("have %d challenge proofs for %d challenges", len(c.proofs), len(c.challenges))
	}

	commR, err := commr.CommR(c.commC, c.commRLast)
	if err != nil {
		return err
	}
	if storiface.Commitment(commR) != c.commR {
		return xerrors.New("comm_r does not bind comm_c and comm_r_last")
	}

	g := graphFor(c.cfg.PoRepID, c.cfg.Nodes())
	for i, ch := range c.challenges {
		if err := c.checkChallenge(g, ch, &c.proofs[i]); err != nil {
			return xerrors.Errorf("challenge %d (node %d): %w", i, ch, err)
		}
	}
	return nil
}

func verifyInclusion(h merkle.Hasher, p *merkle.Proof, root domain.Node, leaf uint64) error {
	if p == nil {
		return xerrors.New("missing inclusion proof")
	}
	if p.Root != root {
		return xerrors.Errorf("proof root %s does not match %s", p.Root, root)
	}
	ok, err := p.VerifyAt(h, leaf)
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.Errorf("inclusion proof for leaf %d does not verify", leaf)
	}
	return nil
}

func (c *sealCircuit) checkChallenge(g *graph, ch uint64, p *ChallengeProof) error {
	layers := c.cfg.Layers

	if p.Challenge != ch {
		return xerrors.Errorf("proof is for node %d", p.Challenge)
	}
	if err := verifyInclusion(merkle.Sha256, p.CommDProof, domain.Node(c.commD), ch); err != nil {
		return xerrors.Errorf("comm_d: %w", err)
	}
	if err := verifyInclusion(merkle.Poseidon, p.CommRLastProof, c.commRLast, ch); err != nil {
		return xerrors.Errorf("comm_r_last: %w", err)
	}

	ps, ok := g.parents(ch)
	if !ok {
		return xerrors.New("challenged node has no parents")
	}
	nodes := append([]uint64{ch}, ps.drg[:]...)
	nodes = append(nodes, ps.exp[:]...)
	if len(p.Columns) != len(nodes) {
		return xerrors.Errorf("have %d columns, need %d", len(p.Columns), len(nodes))
	}
	for j, col := range p.Columns {
		if col.Node != nodes[j] {
			return xerrors.Errorf("column %d is for node %d, expected %d", j, col.Node, nodes[j])
		}
		if len(col.Column) != layers {
			return xerrors.Errorf("column %d has %d labels", j, len(col.Column))
		}
		parts := make([][]byte, layers)
		for l := range col.Column {
			parts[l] = col.Column[l][:]
		}
		if col.Inclusion == nil || col.Inclusion.Leaf != domain.Sha256Trunc(parts...) {
			return xerrors.Errorf("column %d hash mismatch", j)
		}
		if err := verifyInclusion(merkle.Poseidon, col.Inclusion, c.commC, col.Node); err != nil {
			return xerrors.Errorf("column %d: %w", j, err)
		}
	}

	if len(p.Labels) != layers {
		return xerrors.Errorf("have %d labeling proofs, need %d", len(p.Labels), layers)
	}
	for l := 1; l <= layers; l++ {
		lp := p.Labels[l-1]
		want := labelParents(p.Columns, l)
		if lp.Layer != l || lp.Node != ch || len(lp.Parents) != len(want) {
			return xerrors.Errorf("malformed labeling proof for layer %d", l)
		}
		for j := range want {
			if lp.Parents[j] != want[j] {
				return xerrors.Errorf("layer %d parent %d does not match its column", l, j)
			}
		}

		label := labelFromParents(c.replicaID, l, ch, want[:DRGParents], want[DRGParents:])
		if label != p.Columns[0].Column[l-1] {
			return xerrors.Errorf("label mismatch at layer %d", l)
		}
	}

	e := p.Encoding
	if e.Node != ch || e.Key != p.Columns[0].Column[layers-1] || e.Data != p.CommDProof.Leaf || e.Replica != p.CommRLastProof.Leaf {
		return xerrors.New("encoding proof does not match openings")
	}
	enc, err := domain.Encode(e.Key, e.Data)
	if err != nil {
		return err
	}
	if enc != e.Replica {
		return xerrors.New("replica node is not key + data")
	}
	return nil
}

// labelParents picks the parent labels of layer l out of the parent columns.
func labelParents(cols []ColumnProof, l int) []domain.Node {
	out := make([]domain.Node, 0, DRGParents+ExpanderParents)
	for _, col := range cols[1 : 1+DRGParents] {
		out = append(out, col.Column[l-1])
	}
	if l > 1 {
		for _, col := range cols[1+DRGParents:] {
			out = append(out, col.Column[l-2])
		}
	}
	return out
}

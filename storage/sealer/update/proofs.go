package update

import (
	"context"
	"encoding/json"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/storage/sealer/challenges"
	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/snark"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// PartitionProof opens the old replica, the new replica and the new data at
// the challenged leaves of one partition.
type PartitionProof struct {
	Partition int

	CommC        domain.Node
	CommRLastOld domain.Node
	CommRLastNew domain.Node

	Challenges []uint64
	Old        []*merkle.Proof
	New        []*merkle.Proof
	Data       []*merkle.Proof
}

func (p *PartitionProof) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalPartitionProof(b []byte) (*PartitionProof, error) {
	var out PartitionProof
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, xerrors.Errorf("decoding update partition proof: %w", err)
	}
	return &out, nil
}

// Replica names the files of one side of an update.
type Replica struct {
	Path     string
	CacheDir string
}

type openReplica struct {
	data *fsutil.MappedFile
	tree *merkle.MappedCompound
}

func (o *openReplica) Close() error {
	if o.tree != nil {
		_ = o.tree.Close()
	}
	if o.data != nil {
		return o.data.Close()
	}
	return nil
}

func openReplicaTree(cfg proofcfg.SectorUpdateConfig, r Replica) (*openReplica, error) {
	data, err := fsutil.OpenMappedSize(r.Path, int64(cfg.SectorSize))
	if err != nil {
		return nil, err
	}
	o := &openReplica{data: data}

	names := proofpaths.TreeRLastFiles(cfg.Shape.BaseTrees())
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(r.CacheDir, n)
	}
	if o.tree, err = merkle.OpenCompound(merkle.Poseidon, cfg.Shape, paths, cfg.Nodes(), data.Bytes()); err != nil {
		_ = o.Close()
		return nil, xerrors.Errorf("opening tree-r-last in %s: %w", r.CacheDir, err)
	}
	return o, nil
}

type updateFiles struct {
	old, updated *openReplica
	treeD        *merkle.MappedTree
	commC        domain.Node
}

func (u *updateFiles) Close() error {
	if u.treeD != nil {
		_ = u.treeD.Close()
	}
	if u.updated != nil {
		_ = u.updated.Close()
	}
	if u.old != nil {
		_ = u.old.Close()
	}
	return nil
}

func openUpdate(cfg proofcfg.SectorUpdateConfig, sectorKey, replica Replica) (*updateFiles, error) {
	paux, err := sectorcache.ReadPAux(replica.CacheDir)
	if err != nil {
		return nil, err
	}

	u := &updateFiles{commC: paux.CommC}
	if u.old, err = openReplicaTree(cfg, sectorKey); err != nil {
		return nil, err
	}
	if u.updated, err = openReplicaTree(cfg, replica); err != nil {
		_ = u.Close()
		return nil, err
	}
	if u.treeD, err = merkle.OpenTree(filepath.Join(replica.CacheDir, proofpaths.TreeDFileName()), 2, cfg.Nodes()); err != nil {
		_ = u.Close()
		return nil, err
	}
	return u, nil
}

// GeneratePartitionProofs opens every partition of an update.
func GeneratePartitionProofs(cfg proofcfg.SectorUpdateConfig, commROld, commRNew, commDNew storiface.Commitment, sectorKey, replica Replica) ([]*PartitionProof, error) {
	u, err := openUpdate(cfg, sectorKey, replica)
	if err != nil {
		return nil, err
	}
	defer u.Close() // nolint

	out := make([]*PartitionProof, cfg.Partitions)
	for k := range out {
		if out[k], err = u.partitionProof(cfg, k, commROld, commRNew, commDNew); err != nil {
			return nil, xerrors.Errorf("partition %d: %w", k, err)
		}
	}
	return out, nil
}

// GenerateSinglePartitionProof opens one partition of an update.
func GenerateSinglePartitionProof(cfg proofcfg.SectorUpdateConfig, partition int, commROld, commRNew, commDNew storiface.Commitment, sectorKey, replica Replica) (*PartitionProof, error) {
	if partition < 0 || partition >= cfg.Partitions {
		return nil, xerrors.Errorf("partition %d out of range, have %d", partition, cfg.Partitions)
	}

	u, err := openUpdate(cfg, sectorKey, replica)
	if err != nil {
		return nil, err
	}
	defer u.Close() // nolint

	return u.partitionProof(cfg, partition, commROld, commRNew, commDNew)
}

func (u *updateFiles) partitionProof(cfg proofcfg.SectorUpdateConfig, k int, commROld, commRNew, commDNew storiface.Commitment) (*PartitionProof, error) {
	if storiface.Commitment(u.treeD.Root()) != commDNew {
		return nil, xerrors.Errorf("tree-d root does not match comm_d_new: %w", storiface.ErrInvalidCache)
	}

	oldR, err := commr.CommR(u.commC, u.old.tree.Root())
	if err != nil {
		return nil, err
	}
	if storiface.Commitment(oldR) != commROld {
		return nil, xerrors.Errorf("sector key does not match comm_r_old: %w", storiface.ErrInvalidCache)
	}
	newR, err := commr.CommR(u.commC, u.updated.tree.Root())
	if err != nil {
		return nil, err
	}
	if storiface.Commitment(newR) != commRNew {
		return nil, xerrors.Errorf("replica does not match comm_r_new: %w", storiface.ErrInvalidCache)
	}

	chs := challenges.UpdateChallenges(commRNew, k, cfg.ChallengesPerPartition, cfg.Nodes())
	p := &PartitionProof{
		Partition:    k,
		CommC:        u.commC,
		CommRLastOld: u.old.tree.Root(),
		CommRLastNew: u.updated.tree.Root(),
		Challenges:   chs,
	}

	for _, ch := range chs {
		op, err := u.old.tree.Proof(ch)
		if err != nil {
			return nil, err
		}
		np, err := u.updated.tree.Proof(ch)
		if err != nil {
			return nil, err
		}
		dp, err := u.treeD.Proof(ch)
		if err != nil {
			return nil, err
		}
		p.Old = append(p.Old, op)
		p.New = append(p.New, np)
		p.Data = append(p.Data, dp)
	}
	return p, nil
}

func checkPartition(cfg proofcfg.SectorUpdateConfig, r *rhos, p *PartitionProof, commROld, commRNew, commDNew storiface.Commitment) error {
	if p == nil {
		return xerrors.New("missing partition proof")
	}
	if p.Partition < 0 || p.Partition >= cfg.Partitions {
		return xerrors.Errorf("partition %d out of range", p.Partition)
	}

	oldR, err := commr.CommR(p.CommC, p.CommRLastOld)
	if err != nil {
		return err
	}
	if storiface.Commitment(oldR) != commROld {
		return xerrors.New("comm_r_old mismatch")
	}
	newR, err := commr.CommR(p.CommC, p.CommRLastNew)
	if err != nil {
		return err
	}
	if storiface.Commitment(newR) != commRNew {
		return xerrors.New("comm_r_new mismatch")
	}

	chs := challenges.UpdateChallenges(commRNew, p.Partition, cfg.ChallengesPerPartition, cfg.Nodes())
	if len(p.Challenges) != len(chs) || len(p.Old) != len(chs) || len(p.New) != len(chs) || len(p.Data) != len(chs) {
		return xerrors.Errorf("proof covers %d challenges, need %d", len(p.Challenges), len(chs))
	}

	for j, ch := range chs {
		if p.Challenges[j] != ch {
			return xerrors.Errorf("challenge %d is %d, expected %d", j, p.Challenges[j], ch)
		}

		op, np, dp := p.Old[j], p.New[j], p.Data[j]
		if op == nil || np == nil || dp == nil {
			return xerrors.Errorf("challenge %d: missing inclusion", j)
		}
		if op.Root != p.CommRLastOld || np.Root != p.CommRLastNew || storiface.Commitment(dp.Root) != commDNew {
			return xerrors.Errorf("challenge %d: inclusion against the wrong root", j)
		}

		for _, c := range []struct {
			h merkle.Hasher
			p *merkle.Proof
		}{{merkle.Poseidon, op}, {merkle.Poseidon, np}, {merkle.Sha256, dp}} {
			ok, err := c.p.VerifyAt(c.h, ch)
			if err != nil {
				return err
			}
			if !ok {
				return xerrors.Errorf("challenge %d: %s inclusion of leaf %d does not verify", j, c.h.Name(), ch)
			}
		}

		want, err := domain.EncodeScaled(op.Leaf, dp.Leaf, r.rho(ch))
		if err != nil {
			return err
		}
		if want != np.Leaf {
			return xerrors.Errorf("challenge %d: leaf %d is not the encoding of its data", j, ch)
		}
	}
	return nil
}

// VerifySinglePartitionProof checks one partition proof against the
// commitments of the update.
func VerifySinglePartitionProof(cfg proofcfg.SectorUpdateConfig, proof *PartitionProof, commROld, commRNew, commDNew storiface.Commitment) (bool, error) {
	r, err := newRhos(cfg, commDNew, commROld, false)
	if err != nil {
		return false, err
	}
	if err := checkPartition(cfg, r, proof, commROld, commRNew, commDNew); err != nil {
		log.Debugw("update partition proof rejected", "error", err)
		return false, nil
	}
	return true, nil
}

func VerifyPartitionProofs(cfg proofcfg.SectorUpdateConfig, proofs []*PartitionProof, commROld, commRNew, commDNew storiface.Commitment) (bool, error) {
	if len(proofs) != cfg.Partitions {
		return false, nil
	}
	for k, p := range proofs {
		if p == nil || p.Partition != k {
			return false, nil
		}
		ok, err := VerifySinglePartitionProof(cfg, p, commROld, commRNew, commDNew)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func publicInputs(cfg proofcfg.SectorUpdateConfig, partition int, commROld, commRNew, commDNew storiface.Commitment) []domain.Node {
	return []domain.Node{
		domain.Node(commROld),
		domain.Node(commRNew),
		domain.Node(commDNew),
		domain.FromUint64(uint64(cfg.HSelect)),
		domain.FromUint64(uint64(partition)),
	}
}

type updateCircuit struct {
	cfg                          proofcfg.SectorUpdateConfig
	partition                    int
	commROld, commRNew, commDNew storiface.Commitment
	proof                        *PartitionProof
}

func (c *updateCircuit) ID() string {
	return c.cfg.CircuitID(c.partition)
}

func (c *updateCircuit) PublicInputs() []domain.Node {
	return publicInputs(c.cfg, c.partition, c.commROld, c.commRNew, c.commDNew)
}

func (c *updateCircuit) Synthesize() error {
	if c.proof == nil || c.proof.Partition != c.partition {
		return xerrors.Errorf("no vanilla proof for partition %d", c.partition)
	}
	r, err := newRhos(c.cfg, c.commDNew, c.commROld, false)
	if err != nil {
		return err
	}
	return checkPartition(c.cfg, r, c.proof, c.commROld, c.commRNew, c.commDNew)
}

// GenerateEmptySectorUpdateProofWithVanilla proves every partition and
// concatenates the partition snarks in partition order.
func GenerateEmptySectorUpdateProofWithVanilla(ctx context.Context, cfg proofcfg.SectorUpdateConfig, vanilla []*PartitionProof, commROld, commRNew, commDNew storiface.Commitment) (snark.Proof, error) {
	if len(vanilla) != cfg.Partitions {
		return nil, xerrors.Errorf("got %d partition proofs, need %d", len(vanilla), cfg.Partitions)
	}

	be := snark.Default()
	out := make([]byte, cfg.Partitions*snark.ProofSize)

	var eg errgroup.Group
	for k := range vanilla {
		k := k
		eg.Go(func() error {
			circuit := &updateCircuit{
				cfg:       cfg,
				partition: k,
				commROld:  commROld,
				commRNew:  commRNew,
				commDNew:  commDNew,
				proof:     vanilla[k],
			}
			p, err := be.Prove(ctx, circuit)
			if err != nil {
				return xerrors.Errorf("proving update partition %d: %w", k, err)
			}
			copy(out[k*snark.ProofSize:], p)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func GenerateEmptySectorUpdateProof(ctx context.Context, cfg proofcfg.SectorUpdateConfig, commROld, commRNew, commDNew storiface.Commitment, sectorKey, replica Replica) (snark.Proof, error) {
	vanilla, err := GeneratePartitionProofs(cfg, commROld, commRNew, commDNew, sectorKey, replica)
	if err != nil {
		return nil, xerrors.Errorf("generating partition proofs: %w", err)
	}
	return GenerateEmptySectorUpdateProofWithVanilla(ctx, cfg, vanilla, commROld, commRNew, commDNew)
}

// VerifyEmptySectorUpdateProof checks the compound update proof. It only
// verifies for the exact comm_r_old, comm_r_new, comm_d_new it was made for.
func VerifyEmptySectorUpdateProof(cfg proofcfg.SectorUpdateConfig, proof []byte, commROld, commRNew, commDNew storiface.Commitment) (bool, error) {
	if len(proof) != cfg.Partitions*snark.ProofSize {
		return false, nil
	}

	be := snark.Default()
	for k := 0; k < cfg.Partitions; k++ {
		params, err := be.Params(cfg.CircuitID(k))
		if err != nil {
			return false, err
		}
		ok, err := be.Verify(params.VK, publicInputs(cfg, k, commROld, commRNew, commDNew), snark.Proof(proof[k*snark.ProofSize:(k+1)*snark.ProofSize]))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

package porep

import (
	"context"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

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

// SealCommitPhase1 opens the sealed sector at the challenges the seed
// selects. The first seed used against a cache is recorded there; any other
// seed is rejected afterwards.
func SealCommitPhase1(ctx context.Context, cfg proofcfg.PoRepConfig, cacheDir, sealedPath string, proverID storiface.ProverID, sectorID abi.SectorNumber, ticket storiface.Ticket, seed storiface.Seed, pre PreCommitOutput, pieces []abi.PieceInfo) (*Commit1Out, error) {
	start := time.Now()

	if err := sectorcache.ValidateForCommit(cacheDir, sealedPath, cfg.SectorSize); err != nil {
		return nil, xerrors.Errorf("validating cache: %w", err)
	}

	taux, err := sectorcache.ReadTAux(cacheDir)
	if err != nil {
		return nil, err
	}
	if taux.Ticket != ticket {
		return nil, xerrors.Errorf("sector %d sealed with ticket %x, got %x: %w", sectorID, taux.Ticket[:], ticket[:], storiface.ErrTicketMismatch)
	}
	if seed == (storiface.Seed{}) {
		return nil, xerrors.Errorf("all-zero seed: %w", storiface.ErrSeedMismatch)
	}
	if taux.Seed != nil && *taux.Seed != seed {
		return nil, xerrors.Errorf("sector %d already committed with seed %x, got %x: %w", sectorID, taux.Seed[:], seed[:], storiface.ErrSeedMismatch)
	}
	if len(taux.Layers) != cfg.Layers {
		return nil, xerrors.Errorf("cache has %d layers, config has %d: %w", len(taux.Layers), cfg.Layers, storiface.ErrInvalidCache)
	}

	commD, err := GenerateDataCommitment(cfg.SectorSize, pieces)
	if err != nil {
		return nil, err
	}
	if commD != pre.CommD || domain.Node(commD) != taux.CommD {
		return nil, xerrors.Errorf("comm_d from pieces %s does not match precommit %s", commD, pre.CommD)
	}

	replicaID := ReplicaID(proverID, sectorID, ticket, commD, cfg.PoRepID)
	if replicaID != taux.ReplicaID {
		return nil, xerrors.Errorf("replica id %s does not match cache %s: %w", replicaID, taux.ReplicaID, storiface.ErrInvalidCache)
	}

	paux, err := sectorcache.ReadPAux(cacheDir)
	if err != nil {
		return nil, err
	}
	commR, err := commr.CommR(paux.CommC, paux.CommRLast)
	if err != nil {
		return nil, err
	}
	if storiface.Commitment(commR) != pre.CommR {
		return nil, xerrors.Errorf("comm_r from p_aux %s does not match precommit %s: %w", storiface.Commitment(commR), pre.CommR, storiface.ErrInvalidCache)
	}

	nodes := cfg.Nodes()
	bt := cfg.Shape.BaseTrees()

	treeD, err := merkle.OpenTree(filepath.Join(cacheDir, proofpaths.TreeDFileName()), 2, nodes)
	if err != nil {
		return nil, err
	}
	defer treeD.Close() // nolint

	treeC, err := merkle.OpenCompound(merkle.Poseidon, cfg.Shape, cachePaths(cacheDir, proofpaths.TreeCFiles(bt)), nodes, nil)
	if err != nil {
		return nil, err
	}
	defer treeC.Close() // nolint

	replica, err := fsutil.OpenMappedSize(sealedPath, int64(cfg.SectorSize))
	if err != nil {
		return nil, err
	}
	defer replica.Close() // nolint

	treeR, err := merkle.OpenCompound(merkle.Poseidon, cfg.Shape, cachePaths(cacheDir, proofpaths.TreeRLastFiles(bt)), nodes, replica.Bytes())
	if err != nil {
		return nil, err
	}
	defer treeR.Close() // nolint

	if treeC.Root() != paux.CommC || treeR.Root() != paux.CommRLast {
		return nil, xerrors.Errorf("tree roots don't match p_aux: %w", storiface.ErrInvalidCache)
	}

	layers := make([][]byte, cfg.Layers)
	for l := range layers {
		m, err := fsutil.OpenMappedSize(filepath.Join(cacheDir, proofpaths.LayerFileName(l+1)), int64(cfg.SectorSize))
		if err != nil {
			return nil, xerrors.Errorf("opening layer %d: %w", l+1, err)
		}
		defer m.Close() // nolint
		layers[l] = m.Bytes()
	}

	g := graphFor(cfg.PoRepID, nodes)

	out := &Commit1Out{
		SectorSize: cfg.SectorSize,
		PoRepID:    cfg.PoRepID,
		APIVersion: cfg.APIVersion,
		SectorID:   sectorID,
		CacheDir:   cacheDir,
		ReplicaID:  replicaID,
		Ticket:     ticket,
		Seed:       seed,
		CommD:      commD,
		CommR:      pre.CommR,
		CommC:      paux.CommC,
		CommRLast:  paux.CommRLast,
	}

	for k := 0; k < cfg.Partitions; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chs := challenges.PoRepChallenges(replicaID, seed, k, cfg.ChallengesPerPartition, nodes, cfg.APIVersion)
		proofs := make([]ChallengeProof, len(chs))
		for i, ch := range chs {
			p, err := challengeProof(g, cfg, ch, treeD, treeC, treeR, layers)
			if err != nil {
				return nil, xerrors.Errorf("partition %d challenge %d: %w", k, i, err)
			}
			proofs[i] = *p
		}
		out.Partitions = append(out.Partitions, proofs)
	}

	if taux.Seed == nil {
		taux.Seed = &seed
		if err := sectorcache.WriteTAux(cacheDir, taux); err != nil {
			return nil, xerrors.Errorf("recording seed: %w", err)
		}
	}

	log.Infow("commit phase 1 done", "sector", sectorID, "partitions", cfg.Partitions, "took", time.Since(start))
	return out, nil
}

func cachePaths(dir string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out
}

func challengeProof(g *graph, cfg proofcfg.PoRepConfig, ch uint64, treeD *merkle.MappedTree, treeC, treeR *merkle.MappedCompound, layers [][]byte) (*ChallengeProof, error) {
	dp, err := treeD.Proof(ch)
	if err != nil {
		return nil, xerrors.Errorf("tree-d: %w", err)
	}
	rp, err := treeR.Proof(ch)
	if err != nil {
		return nil, xerrors.Errorf("tree-r-last: %w", err)
	}

	ps, ok := g.parents(ch)
	if !ok {
		return nil, xerrors.Errorf("node %d has no parents", ch)
	}
	nodes := append([]uint64{ch}, ps.drg[:]...)
	nodes = append(nodes, ps.exp[:]...)

	p := &ChallengeProof{
		Challenge:      ch,
		CommDProof:     dp,
		CommRLastProof: rp,
	}
	for _, n := range nodes {
		col := ColumnProof{Node: n, Column: make([]domain.Node, len(layers))}
		for l := range layers {
			col.Column[l] = domain.At(layers[l], n)
		}
		if col.Inclusion, err = treeC.Proof(n); err != nil {
			return nil, xerrors.Errorf("tree-c: %w", err)
		}
		p.Columns = append(p.Columns, col)
	}

	for l := 1; l <= cfg.Layers; l++ {
		p.Labels = append(p.Labels, LabelingProof{Layer: l, Node: ch, Parents: labelParents(p.Columns, l)})
	}

	p.Encoding = EncodingProof{
		Node:    ch,
		Key:     p.Columns[0].Column[cfg.Layers-1],
		Data:    dp.Leaf,
		Replica: rp.Leaf,
	}
	return p, nil
}

// SealCommitPhase2 proves every partition and clears the layers from the
// cache the vanilla proofs were taken from.
func SealCommitPhase2(ctx context.Context, cfg proofcfg.PoRepConfig, c1 *Commit1Out, proverID storiface.ProverID, sectorID abi.SectorNumber) (SealProof, error) {
	start := time.Now()

	if err := checkConfig(cfg, c1.SectorSize, c1.PoRepID, c1.APIVersion); err != nil {
		return nil, err
	}
	if len(c1.Partitions) != cfg.Partitions {
		return nil, xerrors.Errorf("commit1 output has %d partitions, config has %d", len(c1.Partitions), cfg.Partitions)
	}
	if rid := ReplicaID(proverID, sectorID, c1.Ticket, c1.CommD, cfg.PoRepID); rid != c1.ReplicaID {
		return nil, xerrors.Errorf("commit1 output was made for a different sector or prover")
	}

	be := backend()
	out := make(SealProof, 0, cfg.Partitions*snark.ProofSize)
	for k, proofs := range c1.Partitions {
		circuit := &sealCircuit{
			cfg:        cfg,
			partition:  k,
			replicaID:  c1.ReplicaID,
			commD:      c1.CommD,
			commR:      c1.CommR,
			challenges: challenges.PoRepChallenges(c1.ReplicaID, c1.Seed, k, cfg.ChallengesPerPartition, cfg.Nodes(), cfg.APIVersion),
			commC:      c1.CommC,
			commRLast:  c1.CommRLast,
			proofs:     proofs,
		}

		p, err := be.Prove(ctx, circuit)
		if err != nil {
			return nil, xerrors.Errorf("proving partition %d: %w", k, err)
		}
		out = append(out, p...)
	}

	if c1.CacheDir != "" {
		if err := sectorcache.ClearLayerData(c1.CacheDir); err != nil {
			return nil, xerrors.Errorf("clearing layer data: %w", err)
		}
	}

	log.Infow("commit phase 2 done", "sector", sectorID, "took", time.Since(start))
	return out, nil
}

// SealInputs returns the public inputs of every partition proof of a seal,
// in partition order.
func SealInputs(cfg proofcfg.PoRepConfig, commR, commD storiface.Commitment, proverID storiface.ProverID, sectorID abi.SectorNumber, ticket storiface.Ticket, seed storiface.Seed) [][]domain.Node {
	replicaID := ReplicaID(proverID, sectorID, ticket, commD, cfg.PoRepID)

	out := make([][]domain.Node, cfg.Partitions)
	for k := range out {
		chs := challenges.PoRepChallenges(replicaID, seed, k, cfg.ChallengesPerPartition, cfg.Nodes(), cfg.APIVersion)
		out[k] = sealPublicInputs(cfg, replicaID, commD, commR, k, chs)
	}
	return out
}

// VerifySeal checks a seal proof. Any mismatching input makes it return
// false; errors are reserved for failures of the verifier itself.
func VerifySeal(cfg proofcfg.PoRepConfig, commR, commD storiface.Commitment, proverID storiface.ProverID, sectorID abi.SectorNumber, ticket storiface.Ticket, seed storiface.Seed, proof SealProof) (bool, error) {
	if len(proof) != cfg.Partitions*snark.ProofSize {
		return false, nil
	}

	be := backend()
	for k, inputs := range SealInputs(cfg, commR, commD, proverID, sectorID, ticket, seed) {
		params, err := be.Params(cfg.CircuitID(k))
		if err != nil {
			return false, err
		}

		ok, err := be.Verify(params.VK, inputs, snark.Proof(proof[k*snark.ProofSize:(k+1)*snark.ProofSize]))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

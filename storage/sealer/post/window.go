package post

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
	prooftypes "github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/storage/sealer/challenges"
	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/snark"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// PartitionProof is the snark of one post partition.
type PartitionProof struct {
	Partition int
	Proof     snark.Proof
}

// Prover generates post proofs, reading at most Parallel replicas at a time.
type Prover struct {
	Parallel int
}

var defaultProver = &Prover{Parallel: runtime.NumCPU()}

func NewProver(parallel int) *Prover {
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}
	return &Prover{Parallel: parallel}
}

func PartitionCount(cfg proofcfg.PoStConfig, sectors int) int {
	return (sectors + cfg.SectorCount - 1) / cfg.SectorCount
}

func sortSectors[T any](in []T, num func(T) abi.SectorNumber) ([]T, error) {
	out := append([]T(nil), in...)
	sort.Slice(out, func(i, j int) bool { return num(out[i]) < num(out[j]) })
	for i := 1; i < len(out); i++ {
		if num(out[i]) == num(out[i-1]) {
			return nil, xerrors.Errorf("duplicate sector %d", num(out[i]))
		}
	}
	return out, nil
}

// partitionSlots lays out partition k of the sorted sectors, repeating the
// last sector until the partition is full.
func partitionSlots(cfg proofcfg.PoStConfig, randomness [32]byte, sectors []SectorInfo, proofs []*VanillaProof, k int) []slot {
	spp := cfg.SectorCount
	start := k * spp
	end := start + spp
	if end > len(sectors) {
		end = len(sectors)
	}

	out := make([]slot, spp)
	for j := range out {
		idx := start + j
		if idx >= end {
			idx = end - 1
		}
		s := sectors[idx]
		out[j] = slot{
			sector:     s,
			challenges: challenges.DeriveChallenges(randomness, uint64(k), uint64(idx-start), s.SectorNumber, uint64(cfg.ChallengeCount), uint64(spp), cfg.Nodes()),
		}
		if proofs != nil {
			out[j].proof = proofs[idx]
		}
	}
	return out
}

// GenerateVanillaProofs opens every replica at its challenges. Sectors that
// fail are collected; if there are any, the returned error is a
// *storiface.FaultySectorsError listing exactly those sectors. The proofs are
// returned in sector order.
func (p *Prover) GenerateVanillaProofs(ctx context.Context, cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, replicas []PrivateSectorInfo) ([]*VanillaProof, error) {
	sorted, err := sortSectors(replicas, func(r PrivateSectorInfo) abi.SectorNumber { return r.SectorNumber })
	if err != nil {
		return nil, err
	}

	ids := make([]abi.SectorNumber, len(sorted))
	for i, r := range sorted {
		ids[i] = r.SectorNumber
	}
	chs, err := GenerateFallbackSectorChallenges(cfg, randomness, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*VanillaProof, len(sorted))

	var lk sync.Mutex
	faults := map[abi.SectorNumber]error{}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.Parallel)
	for i, r := range sorted {
		i, r := i, r
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			vp, err := GenerateSingleVanillaProof(cfg, r, chs[r.SectorNumber])
			if err != nil {
				log.Warnw("generating vanilla proof", "sector", r.SectorNumber, "error", err)
				lk.Lock()
				faults[r.SectorNumber] = err
				lk.Unlock()
				return nil
			}
			out[i] = vp
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if len(faults) > 0 {
		var merr *multierror.Error
		for _, r := range sorted {
			if ferr, ok := faults[r.SectorNumber]; ok {
				merr = multierror.Append(merr, xerrors.Errorf("sector %d: %w", r.SectorNumber, ferr))
			}
		}
		return nil, storiface.NewFaultySectorsError(faults, merr.ErrorOrNil())
	}
	return out, nil
}

// GenerateSingleWindowPoStWithVanilla proves one partition from the vanilla
// proofs of its sectors. Fewer than a full partition's proofs are padded by
// repeating the last one.
func GenerateSingleWindowPoStWithVanilla(ctx context.Context, cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, proverID storiface.ProverID, vanilla []*VanillaProof, partition int) (*PartitionProof, error) {
	if len(vanilla) == 0 || len(vanilla) > cfg.SectorCount {
		return nil, xerrors.Errorf("partition takes 1 to %d vanilla proofs, got %d", cfg.SectorCount, len(vanilla))
	}

	r, err := challengeSeed(randomness)
	if err != nil {
		return nil, err
	}

	sorted, err := sortSectors(vanilla, func(v *VanillaProof) abi.SectorNumber { return v.SectorNumber })
	if err != nil {
		return nil, err
	}

	sectors := make([]SectorInfo, len(sorted))
	for i, v := range sorted {
		c, err := commr.CommR(v.CommC, v.CommRLast)
		if err != nil {
			return nil, err
		}
		sectors[i] = SectorInfo{SectorNumber: v.SectorNumber, CommR: storiface.Commitment(c)}
	}

	circuit := &postCircuit{
		cfg:        cfg,
		randomness: r,
		proverID:   proverID,
		partition:  partition,
		slots:      shiftedSlots(cfg, r, sectors, sorted, partition),
	}

	p, err := backend().Prove(ctx, circuit)
	if err != nil {
		return nil, xerrors.Errorf("proving partition %d: %w", partition, err)
	}
	return &PartitionProof{Partition: partition, Proof: p}, nil
}

func shiftedSlots(cfg proofcfg.PoStConfig, r [32]byte, sectors []SectorInfo, proofs []*VanillaProof, partition int) []slot {
	// pad the sector list in front so partitionSlots derives challenges with
	// the real partition index
	pre := partition * cfg.SectorCount
	all := make([]SectorInfo, pre+len(sectors))
	allProofs := make([]*VanillaProof, pre+len(proofs))
	copy(all[pre:], sectors)
	copy(allProofs[pre:], proofs)
	return partitionSlots(cfg, r, all, allProofs, partition)
}

// MergeWindowPoStPartitionProofs concatenates partition proofs, which must be
// given in increasing partition order starting at 0.
func MergeWindowPoStPartitionProofs(cfg proofcfg.PoStConfig, parts []*PartitionProof) (*prooftypes.PoStProof, error) {
	if len(parts) == 0 {
		return nil, xerrors.New("no partition proofs")
	}

	out := make([]byte, 0, len(parts)*snark.ProofSize)
	for i, p := range parts {
		if p.Partition != i {
			return nil, xerrors.Errorf("partition proofs out of order: position %d holds partition %d", i, p.Partition)
		}
		if len(p.Proof) != snark.ProofSize {
			return nil, xerrors.Errorf("partition %d proof is %d bytes", p.Partition, len(p.Proof))
		}
		out = append(out, p.Proof...)
	}
	return &prooftypes.PoStProof{PoStProof: cfg.Proof, ProofBytes: out}, nil
}

func GenerateWindowPoSt(ctx context.Context, cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, replicas []PrivateSectorInfo, proverID storiface.ProverID) ([]prooftypes.PoStProof, error) {
	return defaultProver.GenerateWindowPoSt(ctx, cfg, randomness, replicas, proverID)
}

func (p *Prover) GenerateWindowPoSt(ctx context.Context, cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, replicas []PrivateSectorInfo, proverID storiface.ProverID) ([]prooftypes.PoStProof, error) {
	if cfg.Type != proofcfg.WindowPoSt {
		return nil, xerrors.Errorf("expected a window post config, got %s", cfg.Type)
	}
	if len(replicas) == 0 {
		return nil, xerrors.New("no sectors to prove")
	}
	start := time.Now()

	vanilla, err := p.GenerateVanillaProofs(ctx, cfg, randomness, replicas)
	if err != nil {
		return nil, err
	}

	n := PartitionCount(cfg, len(vanilla))
	parts := make([]*PartitionProof, n)
	for k := 0; k < n; k++ {
		end := (k + 1) * cfg.SectorCount
		if end > len(vanilla) {
			end = len(vanilla)
		}
		if parts[k], err = GenerateSingleWindowPoStWithVanilla(ctx, cfg, randomness, proverID, vanilla[k*cfg.SectorCount:end], k); err != nil {
			return nil, err
		}
	}

	merged, err := MergeWindowPoStPartitionProofs(cfg, parts)
	if err != nil {
		return nil, err
	}

	log.Infow("window post done", "sectors", len(replicas), "partitions", n, "took", time.Since(start))
	return []prooftypes.PoStProof{*merged}, nil
}

// VerifyWindowPoSt recomputes every partition's public inputs, including the
// challenges, from the public sector set.
func VerifyWindowPoSt(cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, sectors []SectorInfo, proverID storiface.ProverID, proofs []prooftypes.PoStProof) (bool, error) {
	if cfg.Type != proofcfg.WindowPoSt {
		return false, xerrors.Errorf("expected a window post config, got %s", cfg.Type)
	}
	return verify(cfg, randomness, sectors, proverID, proofs)
}

func verify(cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, sectors []SectorInfo, proverID storiface.ProverID, proofs []prooftypes.PoStProof) (bool, error) {
	if len(proofs) != 1 || len(sectors) == 0 {
		return false, nil
	}
	if proofs[0].PoStProof != cfg.Proof {
		return false, nil
	}

	r, err := challengeSeed(randomness)
	if err != nil {
		return false, err
	}
	sorted, err := sortSectors(sectors, func(s SectorInfo) abi.SectorNumber { return s.SectorNumber })
	if err != nil {
		return false, err
	}

	n := PartitionCount(cfg, len(sorted))
	pb := proofs[0].ProofBytes
	if len(pb) != n*snark.ProofSize {
		return false, nil
	}

	be := backend()
	for k := 0; k < n; k++ {
		params, err := be.Params(cfg.CircuitID(k))
		if err != nil {
			return false, err
		}
		inputs := publicInputs(cfg, r, proverID, k, partitionSlots(cfg, r, sorted, nil, k))
		ok, err := be.Verify(params.VK, inputs, snark.Proof(pb[k*snark.ProofSize:(k+1)*snark.ProofSize]))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

package challenges

import (
	"encoding/binary"
	"sort"

	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// DeriveChallenges returns the leaf challenges of one sector in a post
// partition. Prover and verifier must derive the same values. A tree without
// leaves has no challenges.
func DeriveChallenges(randomness [32]byte, partitionIndex, sectorIndex uint64, sectorID abi.SectorNumber, challengeCount, sectorsPerPartition, leaves uint64) []uint64 {
	if leaves == 0 {
		return nil
	}

	var sid [8]byte
	binary.LittleEndian.PutUint64(sid[:], uint64(sectorID))

	base := (partitionIndex*sectorsPerPartition + sectorIndex) * challengeCount

	out := make([]uint64, challengeCount)
	var buf [32 + 8 + 8]byte
	copy(buf[:32], randomness[:])
	copy(buf[32:40], sid[:])
	for i := range out {
		binary.LittleEndian.PutUint64(buf[40:], base+uint64(i))
		d := sha256.Sum256(buf[:])
		out[i] = binary.LittleEndian.Uint64(d[:8]) % leaves
	}
	return out
}

// FallbackSectorChallenges derives challenges for every sector. Sectors are
// sorted and split into partitions of cfg.SectorCount; under winning post
// every sector is its own slot in partition 0.
func FallbackSectorChallenges(cfg proofcfg.PoStConfig, randomness [32]byte, sectorIDs []abi.SectorNumber) (map[abi.SectorNumber][]uint64, error) {
	if cfg.SectorCount <= 0 {
		return nil, xerrors.Errorf("bad sectors per partition %d", cfg.SectorCount)
	}

	sorted := make([]abi.SectorNumber, len(sectorIDs))
	copy(sorted, sectorIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make(map[abi.SectorNumber][]uint64, len(sorted))
	spp := uint64(cfg.SectorCount)
	for i, id := range sorted {
		if _, dup := out[id]; dup {
			return nil, xerrors.Errorf("duplicate sector %d", id)
		}

		partition, idx := uint64(i)/spp, uint64(i)%spp
		sppForDerive := spp
		if cfg.Type == proofcfg.WinningPoSt {
			partition, idx, sppForDerive = 0, uint64(i), uint64(len(sorted))
		}
		out[id] = DeriveChallenges(randomness, partition, idx, id, uint64(cfg.ChallengeCount), sppForDerive, cfg.Nodes())
	}
	return out, nil
}

// PoRepChallenges returns the interactive seal challenges of a partition.
// Node 0 is never challenged since it has no parents.
func PoRepChallenges(replicaID [32]byte, seed storiface.Seed, partition, count int, leaves uint64, v proofcfg.APIVersion) []uint64 {
	if leaves < 2 || count <= 0 {
		return nil
	}

	out := make([]uint64, count)
	var buf [32 + 32 + 8 + 8]byte
	copy(buf[:32], replicaID[:])
	copy(buf[32:64], seed[:])
	binary.LittleEndian.PutUint64(buf[72:], uint64(v))
	for j := range out {
		binary.LittleEndian.PutUint64(buf[64:72], uint64(partition*count+j))
		d := sha256.Sum256(buf[:])
		out[j] = binary.LittleEndian.Uint64(d[:8])%(leaves-1) + 1
	}
	return out
}

// WinningSectorChallenge picks sectorCount indices into the eligible sector
// set.
func WinningSectorChallenge(randomness [32]byte, proverID storiface.ProverID, eligibleCount, sectorCount uint64) ([]uint64, error) {
	if eligibleCount == 0 {
		return nil, xerrors.New("no eligible sectors")
	}

	out := make([]uint64, sectorCount)
	var buf [32 + 32 + 8]byte
	copy(buf[:32], randomness[:])
	copy(buf[32:64], proverID[:])
	for n := range out {
		binary.LittleEndian.PutUint64(buf[64:], uint64(n))
		d := sha256.Sum256(buf[:])
		out[n] = binary.LittleEndian.Uint64(d[:8]) % eligibleCount
	}
	return out, nil
}

// UpdateChallenges returns the challenged leaves of one sector update
// partition.
func UpdateChallenges(commRNew [32]byte, partition, count int, leaves uint64) []uint64 {
	if leaves == 0 || count <= 0 {
		return nil
	}

	out := make([]uint64, count)
	var buf [32 + 8]byte
	copy(buf[:32], commRNew[:])
	for j := range out {
		binary.LittleEndian.PutUint64(buf[32:], uint64(partition*count+j))
		d := sha256.Sum256(buf[:])
		out[j] = binary.LittleEndian.Uint64(d[:8]) % leaves
	}
	return out
}

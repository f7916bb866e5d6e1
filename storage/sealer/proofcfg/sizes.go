package proofcfg

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
)

type sizeInfo struct {
	shape merkle.Shape

	layers     int
	partitions int
	challenges int

	// windowSectors is the default window post sectors per partition
	windowSectors uint64

	// commP is the smallest registered seal proof the piece commitment helpers
	// accept for this size
	commP abi.RegisteredSealProof
}

const (
	KiB = abi.SectorSize(1 << 10)
	MiB = abi.SectorSize(1 << 20)
	GiB = abi.SectorSize(1 << 30)
)

var sizes = map[abi.SectorSize]sizeInfo{
	2 * KiB:   {merkle.ShapeBase8, 2, 1, 2, 2, abi.RegisteredSealProof_StackedDrg2KiBV1_1},
	4 * KiB:   {merkle.ShapeSub8_2, 2, 1, 2, 2, abi.RegisteredSealProof_StackedDrg8MiBV1_1},
	16 * KiB:  {merkle.ShapeSub8_8, 2, 1, 2, 2, abi.RegisteredSealProof_StackedDrg8MiBV1_1},
	32 * KiB:  {merkle.ShapeTop8_8_2, 2, 1, 2, 2, abi.RegisteredSealProof_StackedDrg8MiBV1_1},
	8 * MiB:   {merkle.ShapeBase8, 2, 1, 2, 2, abi.RegisteredSealProof_StackedDrg8MiBV1_1},
	16 * MiB:  {merkle.ShapeSub8_2, 2, 1, 2, 2, abi.RegisteredSealProof_StackedDrg512MiBV1_1},
	512 * MiB: {merkle.ShapeBase8, 2, 1, 2, 2, abi.RegisteredSealProof_StackedDrg512MiBV1_1},
	1 * GiB:   {merkle.ShapeSub8_2, 2, 1, 2, 2, abi.RegisteredSealProof_StackedDrg32GiBV1_1},
	32 * GiB:  {merkle.ShapeSub8_8, 11, 10, 18, 2349, abi.RegisteredSealProof_StackedDrg32GiBV1_1},
	64 * GiB:  {merkle.ShapeTop8_8_2, 11, 10, 18, 2300, abi.RegisteredSealProof_StackedDrg64GiBV1_1},
}

var windowSectors = xsync.NewIntegerMapOf[abi.SectorSize, uint64]()

func init() {
	for ss, si := range sizes {
		windowSectors.Store(ss, si.windowSectors)
	}
}

func lookup(ss abi.SectorSize) (sizeInfo, error) {
	si, ok := sizes[ss]
	if !ok {
		return sizeInfo{}, xerrors.Errorf("unsupported sector size %d", ss)
	}
	return si, nil
}

// SupportedSizes lists every sector size, smallest first.
func SupportedSizes() []abi.SectorSize {
	out := make([]abi.SectorSize, 0, len(sizes))
	for ss := range sizes {
		out = append(out, ss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ShapeFor(ss abi.SectorSize) (merkle.Shape, error) {
	si, err := lookup(ss)
	if err != nil {
		return merkle.ShapeUnknown, err
	}
	return si.shape, nil
}

// Nodes is the number of 32 byte nodes in a sector.
func Nodes(ss abi.SectorSize) uint64 {
	return uint64(ss) / domain.NodeSize
}

// CommPProof returns the registered seal proof used when computing piece
// commitments for sectors of size ss.
func CommPProof(ss abi.SectorSize) (abi.RegisteredSealProof, error) {
	si, err := lookup(ss)
	if err != nil {
		return 0, err
	}
	return si.commP, nil
}

// SetWindowPoStSectorCount overrides the number of sectors per window post
// partition for a sector size. Configs built afterwards use the new value.
func SetWindowPoStSectorCount(ss abi.SectorSize, n uint64) error {
	if _, err := lookup(ss); err != nil {
		return err
	}
	if n == 0 {
		return xerrors.New("sectors per partition must be positive")
	}
	windowSectors.Store(ss, n)
	return nil
}

// WindowPoStSectorCount returns the current sectors per partition for ss.
func WindowPoStSectorCount(ss abi.SectorSize) (uint64, error) {
	n, ok := windowSectors.Load(ss)
	if !ok {
		return 0, xerrors.Errorf("unsupported sector size %d", ss)
	}
	return n, nil
}

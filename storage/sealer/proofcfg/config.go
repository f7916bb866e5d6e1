package proofcfg

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
)

// APIVersion selects the proof behaviour prover and verifier agree on. It is
// mixed into porep challenge derivation.
type APIVersion int

const (
	V1_0_0 APIVersion = iota
	V1_1_0
	V1_2_0
)

var apiVersionNames = map[APIVersion]string{
	V1_0_0: "1.0.0",
	V1_1_0: "1.1.0",
	V1_2_0: "1.2.0",
}

func (v APIVersion) String() string {
	if s, ok := apiVersionNames[v]; ok {
		return s
	}
	return fmt.Sprintf("APIVersion(%d)", int(v))
}

func ParseAPIVersion(s string) (APIVersion, error) {
	for v, n := range apiVersionNames {
		if n == s {
			return v, nil
		}
	}
	return 0, xerrors.Errorf("unknown api version %q", s)
}

// PoRepID identifies a porep configuration. It is bound into replica ids and
// graph parent derivation.
type PoRepID [32]byte

// RegisteredPoRepID returns the porep id of a registered seal proof.
func RegisteredPoRepID(spt abi.RegisteredSealProof) PoRepID {
	var id PoRepID
	binary.LittleEndian.PutUint64(id[:8], uint64(spt))
	return id
}

type PoRepConfig struct {
	SectorSize abi.SectorSize
	Shape      merkle.Shape

	Layers                 int
	Partitions             int
	ChallengesPerPartition int

	PoRepID    PoRepID
	APIVersion APIVersion
}

// NewPoRepConfig returns the config of a registered seal proof type.
func NewPoRepConfig(spt abi.RegisteredSealProof, v APIVersion) (PoRepConfig, error) {
	ss, err := spt.SectorSize()
	if err != nil {
		return PoRepConfig{}, xerrors.Errorf("getting sector size: %w", err)
	}
	return PoRepConfigForSize(ss, RegisteredPoRepID(spt), v)
}

// PoRepConfigForSize returns a config for any supported size, including the
// test sizes which have no registered proof type.
func PoRepConfigForSize(ss abi.SectorSize, id PoRepID, v APIVersion) (PoRepConfig, error) {
	si, err := lookup(ss)
	if err != nil {
		return PoRepConfig{}, err
	}
	if _, ok := apiVersionNames[v]; !ok {
		return PoRepConfig{}, xerrors.Errorf("unknown api version %d", v)
	}

	return PoRepConfig{
		SectorSize:             ss,
		Shape:                  si.shape,
		Layers:                 si.layers,
		Partitions:             si.partitions,
		ChallengesPerPartition: si.challenges,
		PoRepID:                id,
		APIVersion:             v,
	}, nil
}

func (c PoRepConfig) Nodes() uint64 {
	return Nodes(c.SectorSize)
}

// CircuitID names the seal circuit of one partition.
func (c PoRepConfig) CircuitID(partition int) string {
	return fmt.Sprintf("porep-%s-%s-%x-v%s-p%d", c.SectorSize.ShortString(), c.Shape, c.PoRepID[:8], c.APIVersion, partition)
}

type PoStType int

const (
	WindowPoSt PoStType = iota
	WinningPoSt
)

func (t PoStType) String() string {
	if t == WinningPoSt {
		return "winning"
	}
	return "window"
}

const (
	WindowPoStChallengeCount  = 10
	WinningPoStChallengeCount = 66
	WinningPoStSectorCount    = 1
)

type PoStConfig struct {
	SectorSize abi.SectorSize
	Shape      merkle.Shape
	Type       PoStType

	ChallengeCount int
	// SectorCount is the number of sectors per partition.
	SectorCount int
	Priority    bool

	// Proof is the registered proof type the generated proofs are tagged
	// with, or -1 for sizes without one.
	Proof      abi.RegisteredPoStProof
	APIVersion APIVersion
}

// NewWindowPoStConfig reads the current sectors per partition for ss; the
// value is fixed in the returned config.
func NewWindowPoStConfig(ss abi.SectorSize, v APIVersion) (PoStConfig, error) {
	si, err := lookup(ss)
	if err != nil {
		return PoStConfig{}, err
	}
	spp, err := WindowPoStSectorCount(ss)
	if err != nil {
		return PoStConfig{}, err
	}

	return PoStConfig{
		SectorSize:     ss,
		Shape:          si.shape,
		Type:           WindowPoSt,
		ChallengeCount: WindowPoStChallengeCount,
		SectorCount:    int(spp),
		Proof:          registeredPoSt(ss, WindowPoSt),
		APIVersion:     v,
	}, nil
}

func NewWinningPoStConfig(ss abi.SectorSize, v APIVersion) (PoStConfig, error) {
	si, err := lookup(ss)
	if err != nil {
		return PoStConfig{}, err
	}

	return PoStConfig{
		SectorSize:     ss,
		Shape:          si.shape,
		Type:           WinningPoSt,
		ChallengeCount: WinningPoStChallengeCount,
		SectorCount:    WinningPoStSectorCount,
		Priority:       true,
		Proof:          registeredPoSt(ss, WinningPoSt),
		APIVersion:     v,
	}, nil
}

// PoStConfigFor resolves the config of a registered post proof type.
func PoStConfigFor(pp abi.RegisteredPoStProof, v APIVersion) (PoStConfig, error) {
	ss, err := pp.SectorSize()
	if err != nil {
		return PoStConfig{}, xerrors.Errorf("getting sector size: %w", err)
	}

	var cfg PoStConfig
	switch pp {
	case abi.RegisteredPoStProof_StackedDrgWinning2KiBV1,
		abi.RegisteredPoStProof_StackedDrgWinning8MiBV1,
		abi.RegisteredPoStProof_StackedDrgWinning512MiBV1,
		abi.RegisteredPoStProof_StackedDrgWinning32GiBV1,
		abi.RegisteredPoStProof_StackedDrgWinning64GiBV1:
		cfg, err = NewWinningPoStConfig(ss, v)
	default:
		if pp, err = pp.ToV1_1PostProof(); err != nil {
			return PoStConfig{}, err
		}
		cfg, err = NewWindowPoStConfig(ss, v)
	}
	if err != nil {
		return PoStConfig{}, err
	}
	cfg.Proof = pp
	return cfg, nil
}

var registeredSealProofs = []abi.RegisteredSealProof{
	abi.RegisteredSealProof_StackedDrg2KiBV1_1,
	abi.RegisteredSealProof_StackedDrg8MiBV1_1,
	abi.RegisteredSealProof_StackedDrg512MiBV1_1,
	abi.RegisteredSealProof_StackedDrg32GiBV1_1,
	abi.RegisteredSealProof_StackedDrg64GiBV1_1,
}

func registeredPoSt(ss abi.SectorSize, typ PoStType) abi.RegisteredPoStProof {
	for _, spt := range registeredSealProofs {
		if abi.SealProofInfos[spt].SectorSize != ss {
			continue
		}
		pp, err := RegisteredPoStProof(spt, typ)
		if err != nil {
			return -1
		}
		return pp
	}
	return -1
}

// RegisteredPoStProof returns the post proof type sectors sealed with spt are
// proven with. Window proofs are always the V1_1 variant.
func RegisteredPoStProof(spt abi.RegisteredSealProof, typ PoStType) (abi.RegisteredPoStProof, error) {
	if typ == WinningPoSt {
		return spt.RegisteredWinningPoStProof()
	}

	pp, err := spt.RegisteredWindowPoStProof()
	if err != nil {
		return 0, err
	}
	return pp.ToV1_1PostProof()
}

func (c PoStConfig) Nodes() uint64 {
	return Nodes(c.SectorSize)
}

// CircuitID names the post circuit for one partition.
func (c PoStConfig) CircuitID(partition int) string {
	return fmt.Sprintf("post-%s-%s-%s-c%d-s%d-v%s-p%d", c.Type, c.SectorSize.ShortString(), c.Shape, c.ChallengeCount, c.SectorCount, c.APIVersion, partition)
}

type SectorUpdateConfig struct {
	SectorSize abi.SectorSize
	Shape      merkle.Shape

	Partitions             int
	ChallengesPerPartition int
	// HSelect is the number of high index bits selecting rho.
	HSelect int
}

func SectorUpdateConfigFor(ss abi.SectorSize) (SectorUpdateConfig, error) {
	si, err := lookup(ss)
	if err != nil {
		return SectorUpdateConfig{}, err
	}

	cfg := SectorUpdateConfig{
		SectorSize:             ss,
		Shape:                  si.shape,
		Partitions:             16,
		ChallengesPerPartition: 86,
		HSelect:                7,
	}
	if ss <= 32*KiB {
		cfg.Partitions = 1
		cfg.ChallengesPerPartition = 4
		cfg.HSelect = 3
	}
	return cfg, nil
}

func (c SectorUpdateConfig) Nodes() uint64 {
	return Nodes(c.SectorSize)
}

func (c SectorUpdateConfig) CircuitID(partition int) string {
	return fmt.Sprintf("update-%s-%s-h%d-p%d", c.SectorSize.ShortString(), c.Shape, c.HSelect, partition)
}

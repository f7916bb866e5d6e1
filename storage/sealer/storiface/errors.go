package storiface

import (
	"fmt"
	"sort"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
)

// Error kinds. Callers match them with errors.Is / xerrors.Is, never by
// message text.
var (
	ErrIoError                    = xerrors.New("io error")
	ErrInvalidCache               = xerrors.New("invalid cache")
	ErrTicketMismatch             = xerrors.New("ticket mismatch")
	ErrSeedMismatch               = xerrors.New("seed mismatch")
	ErrFaultySectors              = xerrors.New("faulty sectors")
	ErrAggregationVersionMismatch = xerrors.New("aggregation version mismatch")
	ErrInvalidPieceLayout         = xerrors.New("invalid piece layout")
)

// IoError carries a filesystem or mmap failure together with the path it
// happened on.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func NewIoError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Op: op, Path: path, Err: err}
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func (e *IoError) Is(target error) bool { return target == ErrIoError }

// FaultySectorsError is the only partial failure: the listed sectors could not
// produce a proof, every other sector could.
type FaultySectorsError struct {
	Sectors []abi.SectorNumber
	Err     error
}

func NewFaultySectorsError(faults map[abi.SectorNumber]error, combined error) *FaultySectorsError {
	out := &FaultySectorsError{Err: combined}
	for id := range faults {
		out.Sectors = append(out.Sectors, id)
	}
	sort.Slice(out.Sectors, func(i, j int) bool { return out.Sectors[i] < out.Sectors[j] })
	return out
}

func (e *FaultySectorsError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d faulty sectors: %v", len(e.Sectors), e.Sectors)
	}
	return fmt.Sprintf("%d faulty sectors: %v: %s", len(e.Sectors), e.Sectors, e.Err)
}

func (e *FaultySectorsError) Unwrap() error { return e.Err }

func (e *FaultySectorsError) Is(target error) bool { return target == ErrFaultySectors }

// IsFaultySectors returns the faulty sector ids if err carries a
// FaultySectorsError anywhere in its chain.
func IsFaultySectors(err error) ([]abi.SectorNumber, bool) {
	var fe *FaultySectorsError
	if !xerrors.As(err, &fe) {
		return nil, false
	}
	return fe.Sectors, true
}

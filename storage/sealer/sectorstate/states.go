package sectorstate

import (
	"reflect"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

type SectorState string

const (
	Created        SectorState = "Created"
	PreCommit1Done SectorState = "PreCommit1Done"
	PreCommit2Done SectorState = "PreCommit2Done"
	Commit1Done    SectorState = "Commit1Done"
	Commit2Done    SectorState = "Commit2Done"
	Finalized      SectorState = "Finalized"

	ReplicaUpdated      SectorState = "ReplicaUpdated"
	ReplicaUpdateProven SectorState = "ReplicaUpdateProven"

	Failed SectorState = "Failed"
)

// SectorInfo is the persisted pipeline record of one sector.
type SectorInfo struct {
	Number abi.SectorNumber
	State  SectorState

	Ticket storiface.Ticket
	Seed   storiface.Seed
	Pieces []abi.PieceInfo

	PreCommit1Out []byte
	CommD         storiface.Commitment
	CommR         storiface.Commitment
	Proof         []byte

	CommRNew    storiface.Commitment
	CommDNew    storiface.Commitment
	UpdateProof []byte

	// FailedIn is the state the sector was in when it failed; a retry resumes
	// from there.
	FailedIn SectorState `json:",omitempty"`
	Err      string      `json:",omitempty"`
}

type Event interface {
	apply(*SectorInfo)
}

type EvPreCommit1 struct {
	Ticket storiface.Ticket
	Out    []byte
}

func (e EvPreCommit1) apply(si *SectorInfo) {
	si.Ticket = e.Ticket
	si.PreCommit1Out = e.Out
}

type EvPreCommit2 struct {
	CommD, CommR storiface.Commitment
}

func (e EvPreCommit2) apply(si *SectorInfo) {
	si.CommD = e.CommD
	si.CommR = e.CommR
}

type EvCommit1 struct {
	Seed storiface.Seed
}

func (e EvCommit1) apply(si *SectorInfo) { si.Seed = e.Seed }

type EvCommit2 struct {
	Proof []byte
}

func (e EvCommit2) apply(si *SectorInfo) { si.Proof = e.Proof }

type EvFinalized struct{}

func (e EvFinalized) apply(*SectorInfo) {}

type EvReplicaUpdate struct {
	CommRNew, CommDNew storiface.Commitment
	Pieces             []abi.PieceInfo
}

func (e EvReplicaUpdate) apply(si *SectorInfo) {
	si.CommRNew = e.CommRNew
	si.CommDNew = e.CommDNew
	si.Pieces = e.Pieces
}

type EvReplicaUpdateProven struct {
	Proof []byte
}

func (e EvReplicaUpdateProven) apply(si *SectorInfo) { si.UpdateProof = e.Proof }

type EvFailed struct {
	Err error
}

func (e EvFailed) apply(si *SectorInfo) {
	si.FailedIn = si.State
	if e.Err != nil {
		si.Err = e.Err.Error()
	}
}

// EvRetry moves a failed sector back to the state it failed in.
type EvRetry struct{}

func (e EvRetry) apply(si *SectorInfo) {
	si.Err = ""
}

type transition struct {
	ev   reflect.Type
	next SectorState
}

func on(ev Event, next SectorState) transition {
	return transition{ev: reflect.TypeOf(ev), next: next}
}

var planners = map[SectorState][]transition{
	Created:        {on(EvPreCommit1{}, PreCommit1Done)},
	PreCommit1Done: {on(EvPreCommit1{}, PreCommit1Done), on(EvPreCommit2{}, PreCommit2Done)},
	PreCommit2Done: {on(EvCommit1{}, Commit1Done)},
	Commit1Done:    {on(EvCommit1{}, Commit1Done), on(EvCommit2{}, Commit2Done)},
	Commit2Done:    {on(EvFinalized{}, Finalized)},
	Finalized:      {on(EvReplicaUpdate{}, ReplicaUpdated)},
	ReplicaUpdated: {on(EvReplicaUpdateProven{}, ReplicaUpdateProven)},

	ReplicaUpdateProven: {},
}

// Plan applies ev to si, moving it to the next state. Events not accepted in
// the current state are rejected and leave si unchanged.
func Plan(si *SectorInfo, ev Event) error {
	switch ev.(type) {
	case EvFailed:
		if si.State == Failed {
			return xerrors.Errorf("sector %d already failed", si.Number)
		}
		ev.apply(si)
		si.State = Failed
		return nil
	case EvRetry:
		if si.State != Failed {
			return xerrors.Errorf("sector %d is %s, not %s", si.Number, si.State, Failed)
		}
		ev.apply(si)
		si.State, si.FailedIn = si.FailedIn, ""
		return nil
	}

	ts, ok := planners[si.State]
	if !ok {
		return xerrors.Errorf("planner for state %s not found", si.State)
	}

	et := reflect.TypeOf(ev)
	for _, t := range ts {
		if t.ev != et {
			continue
		}
		ev.apply(si)
		si.State = t.next
		return nil
	}
	return xerrors.Errorf("sector %d: event %s not allowed in state %s", si.Number, et.Name(), si.State)
}

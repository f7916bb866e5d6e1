package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/storage/sealer/porep"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

type SealingResult struct {
	Sector abi.SectorNumber

	AddPiece   time.Duration
	PreCommit1 time.Duration
	PreCommit2 time.Duration
	Commit1    time.Duration
	Commit2    time.Duration
	Verify     time.Duration
	Unseal     time.Duration
	Finalize   time.Duration

	CommD string
	CommR string
}

var sealCmd = &cli.Command{
	Name:  "seal",
	Usage: "Seal sectors and verify their proofs",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "num-sectors",
			Usage: "number of new sectors to seal",
			Value: 1,
		},
		&cli.BoolFlag{
			Name:  "skip-unseal",
			Usage: "skip the unseal step",
		},
		&cli.BoolFlag{
			Name:  "resume",
			Usage: "finish sectors left unfinished by an earlier run before sealing new ones",
		},
		&cli.BoolFlag{
			Name:  "json-out",
			Usage: "output results in json format",
		},
	},
	Action: func(cctx *cli.Context) error {
		env, err := newEnv(cctx)
		if err != nil {
			return err
		}
		defer env.close() // nolint

		ctx := cctx.Context
		sectors, err := env.states.List(ctx)
		if err != nil {
			return err
		}

		var todo []*sectorstate.SectorInfo
		var next abi.SectorNumber
		for i := range sectors {
			si := &sectors[i]
			if si.Number >= next {
				next = si.Number + 1
			}
			if cctx.Bool("resume") && sealPhase(si) < phaseDone {
				todo = append(todo, si)
			}
		}
		if next == 0 {
			next = 1
		}
		if err := env.checkSpace(cctx.Int("num-sectors")); err != nil {
			return err
		}
		for i := 0; i < cctx.Int("num-sectors"); i++ {
			todo = append(todo, &sectorstate.SectorInfo{Number: next, State: sectorstate.Created})
			next++
		}

		var results []SealingResult
		for _, si := range todo {
			res, err := env.sealSector(ctx, si, cctx.Bool("skip-unseal"))
			if err != nil {
				return xerrors.Errorf("sealing sector %d: %w", si.Number, err)
			}
			results = append(results, *res)

			if !cctx.Bool("json-out") {
				printSealingResult(cctx, env, res)
			}
		}

		if cctx.Bool("json-out") {
			return printJSON(cctx, env.session, results)
		}
		return nil
	},
}

const (
	phaseAddPiece = iota
	phasePreCommit2
	phaseCommit1
	phaseFinalize
	phaseDone
)

// sealPhase is the first seal step a sector still has to run.
func sealPhase(si *sectorstate.SectorInfo) int {
	st := si.State
	if st == sectorstate.Failed {
		st = si.FailedIn
	}
	switch st {
	case sectorstate.Created:
		return phaseAddPiece
	case sectorstate.PreCommit1Done:
		return phasePreCommit2
	case sectorstate.PreCommit2Done, sectorstate.Commit1Done:
		return phaseCommit1
	case sectorstate.Commit2Done:
		return phaseFinalize
	default:
		return phaseDone
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *benchEnv) sealSector(ctx context.Context, si *sectorstate.SectorInfo, skipUnseal bool) (*SealingResult, error) {
	ref := e.ref(si.Number)
	res := &SealingResult{Sector: si.Number}
	phase := sealPhase(si)

	log.Infow("sealing sector", "sector", si.Number, "from", si.State)

	ticket := abi.SealRandomness(si.Ticket[:])
	var data []byte
	var pieces []abi.PieceInfo
	var p1 storiface.PreCommit1Out
	var cids storiface.SectorCids

	if phase == phaseAddPiece {
		var err error
		if ticket, err = randomBytes(32); err != nil {
			return nil, err
		}
		if data, err = randomBytes(int(abi.PaddedPieceSize(e.ssize).Unpadded())); err != nil {
			return nil, err
		}

		start := time.Now()
		pi, err := e.sb.AddPiece(ctx, ref, nil, abi.PaddedPieceSize(e.ssize).Unpadded(), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		res.AddPiece = time.Since(start)
		pieces = []abi.PieceInfo{pi}

		start = time.Now()
		p1, err = e.sb.SealPreCommit1(ctx, ref, ticket, pieces)
		if err != nil {
			return nil, xerrors.Errorf("precommit1: %w", err)
		}
		res.PreCommit1 = time.Since(start)
	} else {
		p1 = si.PreCommit1Out
		out, err := porep.UnmarshalPreCommit1Out(p1)
		if err != nil {
			return nil, err
		}
		pieces = out.Pieces
	}

	if phase <= phasePreCommit2 {
		start := time.Now()
		var err error
		cids, err = e.sb.SealPreCommit2(ctx, ref, p1)
		if err != nil {
			return nil, xerrors.Errorf("precommit2: %w", err)
		}
		res.PreCommit2 = time.Since(start)
	} else {
		var err error
		if cids, err = storiface.ToCids(si.CommD, si.CommR); err != nil {
			return nil, err
		}
	}

	seed := abi.InteractiveSealRandomness(si.Seed[:])
	if phase <= phaseCommit1 {
		if si.Seed == (storiface.Seed{}) {
			var err error
			if seed, err = randomBytes(32); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		c1, err := e.sb.SealCommit1(ctx, ref, ticket, seed, pieces, cids)
		if err != nil {
			return nil, xerrors.Errorf("commit1: %w", err)
		}
		res.Commit1 = time.Since(start)

		start = time.Now()
		sealProof, err := e.sb.SealCommit2(ctx, ref, c1)
		if err != nil {
			return nil, xerrors.Errorf("commit2: %w", err)
		}
		res.Commit2 = time.Since(start)

		start = time.Now()
		ok, err := e.sb.VerifySeal(proof.SealVerifyInfo{
			SectorID:              ref.ID,
			SealedCID:             cids.Sealed,
			SealProof:             ref.ProofType,
			Proof:                 sealProof,
			Randomness:            ticket,
			InteractiveRandomness: seed,
			UnsealedCID:           cids.Unsealed,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, xerrors.Errorf("porep proof for sector %d was invalid", si.Number)
		}
		res.Verify = time.Since(start)
	}

	if !skipUnseal && data != nil {
		start := time.Now()
		var buf bytes.Buffer
		if err := e.sb.UnsealPiece(ctx, ref, 0, abi.UnpaddedPieceSize(len(data)), ticket, cids.Unsealed, &buf); err != nil {
			return nil, xerrors.Errorf("unseal: %w", err)
		}
		if !bytes.Equal(data, buf.Bytes()) {
			return nil, xerrors.Errorf("unsealed data of sector %d does not match the piece", si.Number)
		}
		res.Unseal = time.Since(start)
	}

	start := time.Now()
	if err := e.sb.FinalizeSector(ctx, ref); err != nil {
		return nil, xerrors.Errorf("finalize: %w", err)
	}
	res.Finalize = time.Since(start)

	res.CommD = cids.Unsealed.String()
	res.CommR = cids.Sealed.String()
	return res, nil
}

func printSealingResult(cctx *cli.Context, env *benchEnv, res *SealingResult) {
	w := cctx.App.Writer
	bps := func(d time.Duration) string {
		if d == 0 {
			return "-"
		}
		return humanize.IBytes(uint64(float64(env.ssize)/d.Seconds())) + "/s"
	}
	line := func(name string, d time.Duration) {
		_, _ = io.WriteString(w, name+": "+d.String()+" ("+bps(d)+")\n")
	}

	_, _ = io.WriteString(w, "----\nsector "+humanize.Comma(int64(res.Sector))+" ("+env.ssize.ShortString()+")\n")
	line("addpiece", res.AddPiece)
	line("precommit phase 1", res.PreCommit1)
	line("precommit phase 2", res.PreCommit2)
	line("commit phase 1", res.Commit1)
	line("commit phase 2", res.Commit2)
	line("verify", res.Verify)
	if res.Unseal > 0 {
		line("unseal", res.Unseal)
	}
	line("finalize", res.Finalize)
	_, _ = io.WriteString(w, "commD: "+res.CommD+"\ncommR: "+res.CommR+"\n")
}

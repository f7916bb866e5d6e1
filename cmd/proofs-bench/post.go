package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

type PoStResult struct {
	Sectors  int
	Skipped  []abi.SectorID
	Faults   map[string]string `json:",omitempty"`
	Generate time.Duration
	Verify   time.Duration
}

// provable is a sector the state store says can be proven, with the replica
// that should be challenged.
type provable struct {
	ref    storiface.SectorRef
	sealed cid.Cid
	update bool
}

func isUpdated(st sectorstate.SectorState) bool {
	return st == sectorstate.ReplicaUpdated || st == sectorstate.ReplicaUpdateProven
}

func (e *benchEnv) provableSectors(ctx context.Context) ([]provable, error) {
	sectors, err := e.states.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []provable
	for _, si := range sectors {
		if si.State != sectorstate.Finalized && !isUpdated(si.State) {
			continue
		}

		commR := si.CommR
		if isUpdated(si.State) {
			commR = si.CommRNew
		}
		sealed, err := commR.SealedCID()
		if err != nil {
			return nil, xerrors.Errorf("sector %d: %w", si.Number, err)
		}
		out = append(out, provable{ref: e.ref(si.Number), sealed: sealed, update: isUpdated(si.State)})
	}
	if len(out) == 0 {
		return nil, xerrors.Errorf("no sealed sectors in %s, run seal first", e.root)
	}
	return out, nil
}

func postInfos(sectors []provable) []proof.SectorInfo {
	out := make([]proof.SectorInfo, len(sectors))
	for i, s := range sectors {
		out[i] = proof.SectorInfo{SealProof: s.ref.ProofType, SectorNumber: s.ref.ID.Number, SealedCID: s.sealed}
	}
	return out
}

var windowPostCmd = &cli.Command{
	Name:  "window-post",
	Usage: "Generate and verify a window post over the sealed sectors",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "skip-check",
			Usage: "don't check that sectors are provable before proving",
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
		sectors, err := env.provableSectors(ctx)
		if err != nil {
			return err
		}

		res := PoStResult{Sectors: len(sectors)}

		if !cctx.Bool("skip-check") {
			pp, err := proofcfg.RegisteredPoStProof(env.spt, proofcfg.WindowPoSt)
			if err != nil {
				return err
			}

			byID := map[abi.SectorID]provable{}
			refs := make([]storiface.SectorRef, len(sectors))
			for i, s := range sectors {
				byID[s.ref.ID] = s
				refs[i] = s.ref
			}

			checkCtx, cancel := context.WithTimeout(ctx, time.Duration(env.cfg.Proving.CheckTimeout))
			bad, err := env.sb.CheckProvable(checkCtx, pp, refs, func(ctx context.Context, id abi.SectorID) (cid.Cid, bool, error) {
				s, ok := byID[id]
				if !ok {
					return cid.Undef, false, xerrors.Errorf("sector %d not found", id.Number)
				}
				return s.sealed, s.update, nil
			})
			cancel()
			if err != nil {
				return xerrors.Errorf("checking sectors: %w", err)
			}
			for id, reason := range bad {
				if res.Faults == nil {
					res.Faults = map[string]string{}
				}
				res.Faults[storiface.SectorName(id)] = reason
			}
		}

		randomness, err := randomBytes(32)
		if err != nil {
			return err
		}
		infos := postInfos(sectors)

		start := time.Now()
		proofs, skipped, err := env.sb.GenerateWindowPoSt(ctx, env.miner, infos, randomness)
		if err != nil {
			return xerrors.Errorf("generating window post: %w", err)
		}
		res.Generate = time.Since(start)
		res.Skipped = skipped

		skippedNum := map[abi.SectorNumber]struct{}{}
		for _, s := range skipped {
			skippedNum[s.Number] = struct{}{}
		}
		var challenged []proof.SectorInfo
		for _, si := range infos {
			if _, ok := skippedNum[si.SectorNumber]; !ok {
				challenged = append(challenged, si)
			}
		}

		start = time.Now()
		ok, err := env.sb.VerifyWindowPoSt(ctx, proof.WindowPoStVerifyInfo{
			Randomness:        randomness,
			Proofs:            proofs,
			ChallengedSectors: challenged,
			Prover:            env.miner,
		})
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.Errorf("window post was invalid")
		}
		res.Verify = time.Since(start)

		if cctx.Bool("json-out") {
			return printJSON(cctx, env.session, res)
		}
		fmt.Fprintf(cctx.App.Writer, "window post over %d sectors (%s)\n", res.Sectors, env.ssize.ShortString())
		fmt.Fprintf(cctx.App.Writer, "generate: %s\nverify: %s\n", res.Generate, res.Verify)
		for name, reason := range res.Faults {
			fmt.Fprintf(cctx.App.Writer, "fault %s: %s\n", name, reason)
		}
		for _, s := range res.Skipped {
			fmt.Fprintf(cctx.App.Writer, "skipped %s\n", storiface.SectorName(s))
		}
		return nil
	},
}

var winningPostCmd = &cli.Command{
	Name:  "winning-post",
	Usage: "Draw a winning post challenge, prove it and verify the proof",
	Flags: []cli.Flag{
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
		sectors, err := env.provableSectors(ctx)
		if err != nil {
			return err
		}

		pp, err := env.spt.RegisteredWinningPoStProof()
		if err != nil {
			return err
		}
		randomness, err := randomBytes(32)
		if err != nil {
			return err
		}

		chs, err := env.sb.GenerateWinningPoStSectorChallenge(ctx, pp, env.miner, randomness, uint64(len(sectors)))
		if err != nil {
			return xerrors.Errorf("drawing challenge: %w", err)
		}
		var challenged []provable
		for _, c := range chs {
			challenged = append(challenged, sectors[c])
		}
		infos := postInfos(challenged)

		res := PoStResult{Sectors: len(infos)}

		start := time.Now()
		proofs, err := env.sb.GenerateWinningPoSt(ctx, env.miner, infos, randomness)
		if err != nil {
			return xerrors.Errorf("generating winning post: %w", err)
		}
		res.Generate = time.Since(start)

		start = time.Now()
		ok, err := env.sb.VerifyWinningPoSt(ctx, proof.WinningPoStVerifyInfo{
			Randomness:        randomness,
			Proofs:            proofs,
			ChallengedSectors: infos,
			Prover:            env.miner,
		})
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.Errorf("winning post was invalid")
		}
		res.Verify = time.Since(start)

		if cctx.Bool("json-out") {
			return printJSON(cctx, env.session, res)
		}
		for _, s := range challenged {
			fmt.Fprintf(cctx.App.Writer, "challenged %s\n", storiface.SectorName(s.ref.ID))
		}
		fmt.Fprintf(cctx.App.Writer, "generate: %s\nverify: %s\n", res.Generate, res.Verify)
		return nil
	},
}

package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

type UpdateResult struct {
	Sector abi.SectorNumber

	AddPiece      time.Duration
	ReplicaUpdate time.Duration
	Prove1        time.Duration
	Prove2        time.Duration
	Verify        time.Duration
	Decode        time.Duration
	SectorKey     time.Duration

	CommRNew string
	CommDNew string
}

var updateCmd = &cli.Command{
	Name:  "update",
	Usage: "Encode new data into a sealed sector, prove the update and decode it again",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  "sector",
			Usage: "finalized sector to update, defaults to the first one in the store",
		},
		&cli.BoolFlag{
			Name:  "skip-decode",
			Usage: "skip decoding the replica and regenerating the sector key",
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

		var si *sectorstate.SectorInfo
		if cctx.IsSet("sector") {
			si, err = env.states.Get(ctx, abi.SectorNumber(cctx.Uint64("sector")))
			if err != nil {
				return err
			}
			if si.State != sectorstate.Finalized {
				return xerrors.Errorf("sector %d is %s, only finalized sectors can be updated", si.Number, si.State)
			}
		} else {
			sectors, err := env.states.List(ctx)
			if err != nil {
				return err
			}
			for i := range sectors {
				if sectors[i].State == sectorstate.Finalized {
					si = &sectors[i]
					break
				}
			}
			if si == nil {
				return xerrors.Errorf("no finalized sectors to update, run seal first")
			}
		}

		ref := env.ref(si.Number)
		sectorKey, err := si.CommR.SealedCID()
		if err != nil {
			return err
		}
		upt, err := env.spt.RegisteredUpdateProof()
		if err != nil {
			return err
		}

		res := UpdateResult{Sector: si.Number}

		data, err := randomBytes(int(abi.PaddedPieceSize(env.ssize).Unpadded()))
		if err != nil {
			return err
		}

		start := time.Now()
		pi, err := env.sb.AddPiece(ctx, ref, nil, abi.UnpaddedPieceSize(len(data)), bytes.NewReader(data))
		if err != nil {
			return err
		}
		res.AddPiece = time.Since(start)

		staged, err := os.ReadFile(env.path(storiface.FTUnsealed, si.Number))
		if err != nil {
			return err
		}

		start = time.Now()
		out, err := env.sb.ReplicaUpdate(ctx, ref, sectorKey, []abi.PieceInfo{pi})
		if err != nil {
			return xerrors.Errorf("replica update: %w", err)
		}
		res.ReplicaUpdate = time.Since(start)

		start = time.Now()
		vanilla, err := env.sb.ProveReplicaUpdate1(ctx, ref, sectorKey, out.NewSealed, out.NewUnsealed)
		if err != nil {
			return xerrors.Errorf("prove replica update 1: %w", err)
		}
		res.Prove1 = time.Since(start)

		start = time.Now()
		updateProof, err := env.sb.ProveReplicaUpdate2(ctx, ref, sectorKey, out.NewSealed, out.NewUnsealed, vanilla)
		if err != nil {
			return xerrors.Errorf("prove replica update 2: %w", err)
		}
		res.Prove2 = time.Since(start)

		start = time.Now()
		ok, err := env.sb.VerifyReplicaUpdate(proof.ReplicaUpdateInfo{
			UpdateProofType:      upt,
			OldSealedSectorCID:   sectorKey,
			NewSealedSectorCID:   out.NewSealed,
			NewUnsealedSectorCID: out.NewUnsealed,
			Proof:                updateProof,
		})
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.Errorf("replica update proof was invalid")
		}
		res.Verify = time.Since(start)

		if !cctx.Bool("skip-decode") {
			start = time.Now()
			if err := env.sb.DecodeReplicaUpdate(ctx, ref, out.NewUnsealed); err != nil {
				return err
			}
			decoded, err := os.ReadFile(env.path(storiface.FTUnsealed, si.Number))
			if err != nil {
				return err
			}
			if !bytes.Equal(staged, decoded) {
				return xerrors.Errorf("decoded replica of sector %d does not match the new data", si.Number)
			}
			res.Decode = time.Since(start)

			keyPath := env.path(storiface.FTSealed, si.Number)
			before, err := os.ReadFile(keyPath)
			if err != nil {
				return err
			}

			start = time.Now()
			if err := env.sb.GenerateSectorKeyFromData(ctx, ref, out.NewUnsealed); err != nil {
				return err
			}
			after, err := os.ReadFile(keyPath)
			if err != nil {
				return err
			}
			if sha256.Sum256(before) != sha256.Sum256(after) {
				return xerrors.Errorf("regenerated sector key of sector %d differs from the original", si.Number)
			}
			res.SectorKey = time.Since(start)
		}

		res.CommRNew = out.NewSealed.String()
		res.CommDNew = out.NewUnsealed.String()

		if cctx.Bool("json-out") {
			return printJSON(cctx, env.session, res)
		}
		w := cctx.App.Writer
		fmt.Fprintf(w, "----\nupdated sector %d (%s)\n", res.Sector, env.ssize.ShortString())
		fmt.Fprintf(w, "addpiece: %s\nreplica update: %s\nprove update 1: %s\nprove update 2: %s\nverify: %s\n",
			res.AddPiece, res.ReplicaUpdate, res.Prove1, res.Prove2, res.Verify)
		if res.Decode > 0 {
			fmt.Fprintf(w, "decode: %s\nregenerate sector key: %s\n", res.Decode, res.SectorKey)
		}
		fmt.Fprintf(w, "commRNew: %s\ncommDNew: %s\n", res.CommRNew, res.CommDNew)
		return nil
	},
}

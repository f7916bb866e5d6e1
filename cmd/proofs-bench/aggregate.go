package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/proof"

	"github.com/filecoin-project/sector-proofs/node/config"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

type AggregateResult struct {
	Version   string
	Proofs    int
	Size      int
	Aggregate time.Duration
	Verify    time.Duration
}

var aggregateCmd = &cli.Command{
	Name:  "aggregate",
	Usage: "Aggregate the seal proofs of sealed sectors and verify the aggregate",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "version",
			Usage: "aggregation version, v1 or v2, defaults to Sealing.AggregateVersion",
		},
		&cli.IntFlag{
			Name:  "count",
			Usage: "number of proofs to aggregate, 0 aggregates every available proof",
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

		sc := env.cfg.Sealing
		if cctx.IsSet("version") {
			sc = config.SealingConfig{AggregateVersion: cctx.String("version")}
		}
		aggProof, err := sc.AggregationProof()
		if err != nil {
			return err
		}

		sectors, err := env.states.List(cctx.Context)
		if err != nil {
			return err
		}

		info := proof.AggregateSealVerifyProofAndInfos{
			Miner:          env.miner,
			SealProof:      env.spt,
			AggregateProof: aggProof,
		}
		var proofs [][]byte
		for _, si := range sectors {
			if len(si.Proof) == 0 {
				continue
			}
			if n := cctx.Int("count"); n > 0 && len(proofs) == n {
				break
			}

			cids, err := storiface.ToCids(si.CommD, si.CommR)
			if err != nil {
				return xerrors.Errorf("sector %d: %w", si.Number, err)
			}
			ticket, seed := si.Ticket, si.Seed
			info.Infos = append(info.Infos, proof.AggregateSealVerifyInfo{
				Number:                si.Number,
				Randomness:            abi.SealRandomness(ticket[:]),
				InteractiveRandomness: abi.InteractiveSealRandomness(seed[:]),
				SealedCID:             cids.Sealed,
				UnsealedCID:           cids.Unsealed,
			})
			proofs = append(proofs, si.Proof)
		}
		if len(proofs) == 0 {
			return xerrors.Errorf("no seal proofs in the sector store, run seal first")
		}

		res := AggregateResult{Version: sc.AggregateVersion, Proofs: len(proofs)}

		start := time.Now()
		agg, err := env.sb.AggregateSealProofs(info, proofs)
		if err != nil {
			return xerrors.Errorf("aggregating proofs: %w", err)
		}
		res.Aggregate = time.Since(start)
		res.Size = len(agg)
		info.Proof = agg

		start = time.Now()
		ok, err := env.sb.VerifyAggregateSeals(info)
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.Errorf("aggregate proof was invalid")
		}
		res.Verify = time.Since(start)

		if cctx.Bool("json-out") {
			return printJSON(cctx, env.session, res)
		}
		fmt.Fprintf(cctx.App.Writer, "aggregated %d proofs (%s): %s\n", res.Proofs, res.Version, humanize.IBytes(uint64(res.Size)))
		fmt.Fprintf(cctx.App.Writer, "aggregate: %s\nverify: %s\n", res.Aggregate, res.Verify)
		return nil
	},
}

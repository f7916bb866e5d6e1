package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var sectorsCmd = &cli.Command{
	Name:  "sectors",
	Usage: "Manage the sector state store",
	Subcommands: []*cli.Command{
		sectorsListCmd,
		sectorsRemoveCmd,
	},
}

var stateColors = map[sectorstate.SectorState]*color.Color{
	sectorstate.Created:             color.New(color.FgBlue),
	sectorstate.PreCommit1Done:      color.New(color.FgYellow),
	sectorstate.PreCommit2Done:      color.New(color.FgYellow),
	sectorstate.Commit1Done:         color.New(color.FgYellow),
	sectorstate.Commit2Done:         color.New(color.FgYellow),
	sectorstate.Finalized:           color.New(color.FgGreen),
	sectorstate.ReplicaUpdated:      color.New(color.FgCyan),
	sectorstate.ReplicaUpdateProven: color.New(color.FgGreen),
	sectorstate.Failed:              color.New(color.FgRed),
}

var sectorsListCmd = &cli.Command{
	Name:  "list",
	Usage: "List sectors and the step each one reached",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "color",
			Usage: "use color in display output",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "json-out",
			Usage: "output results in json format",
		},
	},
	Action: func(cctx *cli.Context) error {
		color.NoColor = !cctx.Bool("color")

		env, err := newEnv(cctx)
		if err != nil {
			return err
		}
		defer env.close() // nolint

		sectors, err := env.states.List(cctx.Context)
		if err != nil {
			return err
		}

		if cctx.Bool("json-out") {
			return printJSON(cctx, env.session, sectors)
		}

		tw := tabwriter.NewWriter(cctx.App.Writer, 8, 4, 1, ' ', 0)
		_, _ = fmt.Fprintf(tw, "ID\tState\tCommR\tError\n")
		for _, si := range sectors {
			st := string(si.State)
			if c, ok := stateColors[si.State]; ok {
				st = c.Sprint(st)
			}
			if si.State == sectorstate.Failed {
				st += " (in " + string(si.FailedIn) + ")"
			}

			commR := "-"
			if si.CommR != (storiface.Commitment{}) {
				commR = si.CommR.String()[:16] + ".."
			}
			_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", si.Number, st, commR, si.Err)
		}
		return tw.Flush()
	},
}

var sectorsRemoveCmd = &cli.Command{
	Name:      "remove",
	Usage:     "Forget a sector, its files are kept",
	ArgsUsage: "<sector number>",
	Action: func(cctx *cli.Context) error {
		env, err := newEnv(cctx)
		if err != nil {
			return err
		}
		defer env.close() // nolint

		n, err := sectorArg(cctx)
		if err != nil {
			return err
		}
		return env.states.Remove(cctx.Context, n)
	},
}

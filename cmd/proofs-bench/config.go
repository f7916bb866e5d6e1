package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/sector-proofs/node/config"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Print configuration files",
	Subcommands: []*cli.Command{
		configDefaultCmd,
		configShowCmd,
	},
}

var configDefaultCmd = &cli.Command{
	Name:  "default",
	Usage: "Print the default config, commented out",
	Action: func(cctx *cli.Context) error {
		cb, err := config.ConfigComment(config.DefaultConfig())
		if err != nil {
			return err
		}
		fmt.Fprint(cctx.App.Writer, string(cb))
		return nil
	},
}

var configShowCmd = &cli.Command{
	Name:  "show",
	Usage: "Print the config in effect, with flag overrides applied",
	Action: func(cctx *cli.Context) error {
		cb, err := config.ConfigUpdate(cfgFromContext(cctx), config.DefaultConfig())
		if err != nil {
			return err
		}
		fmt.Fprint(cctx.App.Writer, string(cb))
		return nil
	},
}

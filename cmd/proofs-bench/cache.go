package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
	"github.com/filecoin-project/sector-proofs/storage/sealer/tarutil"
)

var cacheCmd = &cli.Command{
	Name:  "cache",
	Usage: "Inspect and clean sector caches",
	Subcommands: []*cli.Command{
		cacheInspectCmd,
		cacheClearCmd,
		cacheExportCmd,
		cacheImportCmd,
	},
}

func sectorArg(cctx *cli.Context) (abi.SectorNumber, error) {
	if cctx.NArg() != 1 {
		return 0, xerrors.Errorf("expected 1 argument, the sector number")
	}
	n, err := strconv.ParseUint(cctx.Args().First(), 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("parsing sector number: %w", err)
	}
	return abi.SectorNumber(n), nil
}

var cacheInspectCmd = &cli.Command{
	Name:      "inspect",
	Usage:     "List the files in the cache of a sector",
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

		tw := tabwriter.NewWriter(cctx.App.Writer, 2, 4, 2, ' ', 0)
		for _, ft := range []storiface.SectorFileType{storiface.FTCache, storiface.FTUpdateCache} {
			dir := env.path(ft, n)
			files, err := sectorcache.Inspect(dir)
			if err != nil {
				if xerrors.Is(err, os.ErrNotExist) {
					continue
				}
				return err
			}

			var total int64
			for _, f := range files {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", ft, f.Name, humanize.IBytes(uint64(f.Size)))
				total += f.Size
			}
			_, _ = fmt.Fprintf(tw, "%s\ttotal\t%s\n", ft, humanize.IBytes(uint64(total)))
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		cfg, err := proofcfg.NewPoRepConfig(env.spt, env.version)
		if err != nil {
			return err
		}
		layers, err := sectorcache.LayerStatus(env.path(storiface.FTCache, n), cfg)
		if err != nil {
			return err
		}
		for i, st := range layers {
			fmt.Fprintf(cctx.App.Writer, "layer %d: %s\n", i+1, st)
		}
		return nil
	},
}

var cacheClearCmd = &cli.Command{
	Name:      "clear",
	Usage:     "Remove cache files a finalized sector no longer needs",
	ArgsUsage: "<sector number>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "layers-only",
			Usage: "only remove the layer files, keep the trees",
		},
	},
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
		dir := env.path(storiface.FTCache, n)

		if cctx.Bool("layers-only") {
			err = sectorcache.ClearLayerData(dir)
		} else {
			err = sectorcache.ClearCache(dir, env.ssize)
		}
		if err != nil {
			return xerrors.Errorf("clearing cache of sector %d: %w", n, err)
		}

		log.Infow("cleared sector cache", "sector", n, "layersOnly", cctx.Bool("layers-only"))
		return nil
	},
}

func cacheArgs(cctx *cli.Context) (abi.SectorNumber, string, error) {
	if cctx.NArg() != 2 {
		return 0, "", xerrors.Errorf("expected 2 arguments, the sector number and the archive path")
	}
	n, err := strconv.ParseUint(cctx.Args().Get(0), 10, 64)
	if err != nil {
		return 0, "", xerrors.Errorf("parsing sector number: %w", err)
	}
	return abi.SectorNumber(n), cctx.Args().Get(1), nil
}

var cacheExportCmd = &cli.Command{
	Name:      "export",
	Usage:     "Write the cache of a sector to a tar archive",
	ArgsUsage: "<sector number> <archive>",
	Action: func(cctx *cli.Context) error {
		env, err := newEnv(cctx)
		if err != nil {
			return err
		}
		defer env.close() // nolint

		n, out, err := cacheArgs(cctx)
		if err != nil {
			return err
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := tarutil.TarDirectory(env.path(storiface.FTCache, n), f, make([]byte, 1<<20)); err != nil {
			_ = f.Close()
			return xerrors.Errorf("archiving cache of sector %d: %w", n, err)
		}
		return f.Close()
	},
}

var cacheImportCmd = &cli.Command{
	Name:      "import",
	Usage:     "Restore the cache of a sector from a tar archive",
	ArgsUsage: "<sector number> <archive>",
	Action: func(cctx *cli.Context) error {
		env, err := newEnv(cctx)
		if err != nil {
			return err
		}
		defer env.close() // nolint

		n, in, err := cacheArgs(cctx)
		if err != nil {
			return err
		}

		maxSize, err := storiface.FTCache.SealSpaceUse(env.ssize)
		if err != nil {
			return err
		}

		f, err := os.Open(in)
		if err != nil {
			return err
		}
		defer f.Close() // nolint

		read, err := tarutil.ExtractTar(f, env.path(storiface.FTCache, n), int64(maxSize)+1<<20, make([]byte, 1<<20))
		if err != nil {
			return xerrors.Errorf("extracting cache of sector %d: %w", n, err)
		}

		log.Infow("imported sector cache", "sector", n, "size", humanize.IBytes(uint64(read)))
		return nil
	},
}

package main

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/sector-proofs/build"
	"github.com/filecoin-project/sector-proofs/lib/proofslog"
	"github.com/filecoin-project/sector-proofs/metrics"
	"github.com/filecoin-project/sector-proofs/node/config"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
)

var log = logging.Logger("proofs-bench")

func main() {
	proofslog.SetupLogLevels()

	local := []*cli.Command{
		sealCmd,
		windowPostCmd,
		winningPostCmd,
		aggregateCmd,
		updateCmd,
		cacheCmd,
		sectorsCmd,
		infoCmd,
		configCmd,
	}

	app := &cli.App{
		Name:     "proofs-bench",
		Usage:    "Seal, prove and verify sectors on your hardware",
		Version:  build.UserVersion(),
		Commands: local,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"PROOFS_BENCH_CONFIG"},
				Value:   "~/.proofs-bench/config.toml",
				Usage:   "path to the config file",
			},
			&cli.StringFlag{
				Name:  "storage-dir",
				Usage: "path to the storage directory that will store sectors, overrides Storage.Path",
			},
			&cli.StringFlag{
				Name:  "sector-size",
				Usage: "size of the sectors in bytes, i.e. 32GiB, overrides Sealing.SectorSize",
			},
			&cli.Uint64Flag{
				Name:  "miner-id",
				Usage: "actor id of the miner, overrides Sealing.MinerID",
			},
			&cli.StringFlag{
				Name:  "metrics-listen",
				Usage: "address to serve prometheus metrics on, i.e. 127.0.0.1:9090",
			},
		},
		Before: func(cctx *cli.Context) error {
			cfg, err := loadConfig(cctx)
			if err != nil {
				return err
			}

			for sys, lvl := range cfg.Logging.SubsystemLevels {
				if err := logging.SetLogLevel(sys, lvl); err != nil {
					return xerrors.Errorf("setting log level of %s: %w", sys, err)
				}
			}

			if spp := cfg.Proving.WindowPoStSectorsPerPartition; spp > 0 {
				ss, err := cfg.Sealing.Size()
				if err != nil {
					return err
				}
				if err := proofcfg.SetWindowPoStSectorCount(ss, spp); err != nil {
					return err
				}
			}

			if err := metrics.RecordInfo(cctx.Context); err != nil {
				log.Warnw("recording build info", "error", err)
			}
			if cfg.Metrics.ListenAddress != "" {
				if err := serveMetrics(cfg.Metrics); err != nil {
					return err
				}
			}

			session := uuid.New()
			cctx.App.Metadata = map[string]interface{}{
				"config":  cfg,
				"session": session,
			}
			log.Debugw("session started", "session", session, "version", build.UserVersion())
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Warnf("%+v", err)
		os.Exit(1)
		return
	}
}

func loadConfig(cctx *cli.Context) (*config.Config, error) {
	cfg, err := config.FromFile(cctx.String("config"), config.DefaultConfig())
	if err != nil {
		return nil, xerrors.Errorf("loading config: %w", err)
	}

	if cctx.IsSet("storage-dir") {
		cfg.Storage.Path = cctx.String("storage-dir")
	}
	if cctx.IsSet("sector-size") {
		cfg.Sealing.SectorSize = cctx.String("sector-size")
	}
	if cctx.IsSet("miner-id") {
		cfg.Sealing.MinerID = cctx.Uint64("miner-id")
	}
	if cctx.IsSet("metrics-listen") {
		cfg.Metrics.ListenAddress = cctx.String("metrics-listen")
	}
	return cfg, nil
}

func serveMetrics(mc config.MetricsConfig) error {
	exporter, err := metrics.Exporter(mc.Namespace)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/debug/metrics", exporter)

	srv := &http.Server{
		Addr:              mc.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		log.Infow("serving metrics", "address", mc.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server", "error", err)
		}
	}()
	return nil
}

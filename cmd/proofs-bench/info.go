package main

import (
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/elastic/go-sysinfo"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/sector-proofs/build"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
)

type HostInfo struct {
	Version      string
	Hostname     string
	OS           string
	Kernel       string
	Architecture string
	CPUs         int
	Memory       uint64
	MemoryAvail  uint64
	Swap         uint64

	StoragePath      string
	StorageUsed      int64
	StorageAvailable int64
}

var infoCmd = &cli.Command{
	Name:  "info",
	Usage: "Print the host results will be recorded against",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json-out",
			Usage: "output results in json format",
		},
	},
	Action: func(cctx *cli.Context) error {
		h, err := sysinfo.Host()
		if err != nil {
			return err
		}
		mem, err := h.Memory()
		if err != nil {
			return err
		}
		hi := h.Info()

		out := HostInfo{
			Version:      build.UserVersion(),
			Hostname:     hi.Hostname,
			Kernel:       hi.KernelVersion,
			Architecture: hi.Architecture,
			CPUs:         runtime.NumCPU(),
			Memory:       mem.Total,
			MemoryAvail:  mem.Available,
			Swap:         mem.VirtualTotal,
		}
		if hi.OS != nil {
			out.OS = hi.OS.Name + " " + hi.OS.Version
		}

		if root, err := cfgFromContext(cctx).Storage.Root(); err == nil {
			out.StoragePath = root
			if used, err := fsutil.FileSize(root); err == nil {
				out.StorageUsed = used.OnDisk
			}
			if st, err := fsutil.Statfs(root); err == nil {
				out.StorageAvailable = st.Available
			}
		}

		if cctx.Bool("json-out") {
			session, _ := cctx.App.Metadata["session"].(uuid.UUID)
			return printJSON(cctx, session, out)
		}

		w := cctx.App.Writer
		fmt.Fprintf(w, "version: %s\n", out.Version)
		fmt.Fprintf(w, "host: %s (%s, %s)\n", out.Hostname, out.OS, out.Architecture)
		fmt.Fprintf(w, "kernel: %s\n", out.Kernel)
		fmt.Fprintf(w, "cpus: %d\n", out.CPUs)
		fmt.Fprintf(w, "memory: %s total, %s available, %s swap\n",
			humanize.IBytes(out.Memory), humanize.IBytes(out.MemoryAvail), humanize.IBytes(out.Swap))
		if out.StoragePath != "" {
			fmt.Fprintf(w, "storage: %s, %s used, %s available\n",
				out.StoragePath, humanize.IBytes(uint64(out.StorageUsed)), humanize.IBytes(uint64(out.StorageAvailable)))
		}
		return nil
	},
}

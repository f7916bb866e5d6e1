package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/node/config"
	"github.com/filecoin-project/sector-proofs/storage/sealer/ffiwrapper"
	"github.com/filecoin-project/sector-proofs/storage/sealer/ffiwrapper/basicfs"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var sealProofs = []abi.RegisteredSealProof{
	abi.RegisteredSealProof_StackedDrg2KiBV1_1,
	abi.RegisteredSealProof_StackedDrg8MiBV1_1,
	abi.RegisteredSealProof_StackedDrg512MiBV1_1,
	abi.RegisteredSealProof_StackedDrg32GiBV1_1,
	abi.RegisteredSealProof_StackedDrg64GiBV1_1,
}

func spt(ssize abi.SectorSize) (abi.RegisteredSealProof, error) {
	for _, p := range sealProofs {
		if s, err := p.SectorSize(); err == nil && s == ssize {
			return p, nil
		}
	}
	return 0, xerrors.Errorf("no registered seal proof for %s sectors", ssize.ShortString())
}

// benchEnv is what every command works with: the sealer over the storage
// directory and the sector state database.
type benchEnv struct {
	cfg     *config.Config
	session uuid.UUID

	root    string
	ssize   abi.SectorSize
	spt     abi.RegisteredSealProof
	miner   abi.ActorID
	version proofcfg.APIVersion

	sb     *ffiwrapper.Sealer
	states *sectorstate.Store
	close  func() error
}

func cfgFromContext(cctx *cli.Context) *config.Config {
	if cfg, ok := cctx.App.Metadata["config"].(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}

func newEnv(cctx *cli.Context) (*benchEnv, error) {
	cfg := cfgFromContext(cctx)
	session, _ := cctx.App.Metadata["session"].(uuid.UUID)

	root, err := cfg.Storage.Root()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0775); err != nil {
		return nil, xerrors.Errorf("creating storage dir: %w", err)
	}

	ssize, err := cfg.Sealing.Size()
	if err != nil {
		return nil, err
	}
	proofType, err := spt(ssize)
	if err != nil {
		return nil, err
	}
	version, err := proofcfg.ParseAPIVersion(cfg.Sealing.APIVersion)
	if err != nil {
		return nil, err
	}

	statePath, err := cfg.Storage.StateRoot()
	if err != nil {
		return nil, err
	}
	states, closer, err := sectorstate.OpenLevelDB(statePath)
	if err != nil {
		return nil, xerrors.Errorf("opening sector state store: %w", err)
	}

	sb, err := ffiwrapper.New(&basicfs.Provider{Root: root},
		ffiwrapper.WithStateStore(states),
		ffiwrapper.WithAPIVersion(version),
		ffiwrapper.WithProvingParallel(cfg.Proving.Parallel))
	if err != nil {
		_ = closer()
		return nil, err
	}

	return &benchEnv{
		cfg:     cfg,
		session: session,

		root:    root,
		ssize:   ssize,
		spt:     proofType,
		miner:   abi.ActorID(cfg.Sealing.MinerID),
		version: version,

		sb:     sb,
		states: states,
		close:  closer,
	}, nil
}

func (e *benchEnv) ref(n abi.SectorNumber) storiface.SectorRef {
	return storiface.SectorRef{
		ID:        abi.SectorID{Miner: e.miner, Number: n},
		ProofType: e.spt,
	}
}

func (e *benchEnv) path(ft storiface.SectorFileType, n abi.SectorNumber) string {
	return filepath.Join(e.root, ft.String(), storiface.SectorName(abi.SectorID{Miner: e.miner, Number: n}))
}

// printJSON writes a command result, tagged with the session it ran in.
func printJSON(cctx *cli.Context, session uuid.UUID, v interface{}) error {
	out := struct {
		Session uuid.UUID
		Result  interface{}
	}{session, v}

	enc := json.NewEncoder(cctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// checkSpace fails if the storage directory can't hold n more sectors while
// they are sealing.
func (e *benchEnv) checkSpace(n int) error {
	need, err := (storiface.FTUnsealed | storiface.FTSealed | storiface.FTCache).SealSpaceUse(e.ssize)
	if err != nil {
		return err
	}
	st, err := fsutil.Statfs(e.root)
	if err != nil {
		return err
	}
	if total := need * uint64(n); st.Available < int64(total) {
		return xerrors.Errorf("sealing %d %s sectors needs %s, %s has %s available",
			n, e.ssize.ShortString(), humanize.IBytes(total), e.root, humanize.IBytes(uint64(st.Available)))
	}
	return nil
}

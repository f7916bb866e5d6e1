package ffiwrapper

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/metrics"
	"github.com/filecoin-project/sector-proofs/storage/sealer/post"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorstate"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var log = logging.Logger("ffiwrapper")

type SectorProvider interface {
	// AcquireSector returns an IoError if a requested existing file is missing.
	AcquireSector(ctx context.Context, id storiface.SectorRef, existing storiface.SectorFileType, allocate storiface.SectorFileType) (storiface.SectorPaths, func(), error)
}

type FFIWrapperOpts struct {
	states     *sectorstate.Store
	apiVersion proofcfg.APIVersion
	parallel   int
}

type FFIWrapperOpt func(*FFIWrapperOpts)

// WithStateStore records every phase transition in st.
func WithStateStore(st *sectorstate.Store) FFIWrapperOpt {
	return func(o *FFIWrapperOpts) {
		o.states = st
	}
}

func WithAPIVersion(v proofcfg.APIVersion) FFIWrapperOpt {
	return func(o *FFIWrapperOpts) {
		o.apiVersion = v
	}
}

// WithProvingParallel limits how many replicas post reads at once.
func WithProvingParallel(n int) FFIWrapperOpt {
	return func(o *FFIWrapperOpts) {
		o.parallel = n
	}
}

type Sealer struct {
	sectors SectorProvider

	states     *sectorstate.Store
	apiVersion proofcfg.APIVersion
	prover     *post.Prover
}

var _ storiface.Sealer = &Sealer{}
var _ storiface.Prover = &Sealer{}
var _ storiface.Verifier = &Sealer{}

func New(sectors SectorProvider, opts ...FFIWrapperOpt) (*Sealer, error) {
	options := &FFIWrapperOpts{
		apiVersion: proofcfg.V1_1_0,
	}

	for _, o := range opts {
		o(options)
	}

	sb := &Sealer{
		sectors: sectors,

		states:     options.states,
		apiVersion: options.apiVersion,
		prover:     post.NewProver(options.parallel),
	}

	return sb, nil
}

func (sb *Sealer) porepConfig(sector storiface.SectorRef) (proofcfg.PoRepConfig, storiface.ProverID, error) {
	cfg, err := proofcfg.NewPoRepConfig(sector.ProofType, sb.apiVersion)
	if err != nil {
		return proofcfg.PoRepConfig{}, storiface.ProverID{}, err
	}
	prover, err := storiface.ToProverID(sector.ID.Miner)
	if err != nil {
		return proofcfg.PoRepConfig{}, storiface.ProverID{}, err
	}
	return cfg, prover, nil
}

// phase tags ctx for the metrics of one task and returns a function ending
// it; the error, if any, is counted as a failure.
func phase(ctx context.Context, task string, ss abi.SectorSize, m *stats.Float64Measure) (context.Context, func(err error)) {
	ctx, _ = tag.New(ctx,
		tag.Upsert(metrics.TaskType, task),
		tag.Upsert(metrics.SectorSize, ss.ShortString()),
	)
	stop := metrics.Timer(ctx, m)
	return ctx, func(err error) {
		d := stop()
		if err != nil {
			stats.Record(ctx, metrics.SealPhaseFailures.M(1))
			log.Warnw("task failed", "task", task, "took", d, "error", err)
			return
		}
		log.Debugw("task done", "task", task, "took", d)
	}
}

// track records a transition of the sector's pipeline record. The record is
// advisory; failing to write it never fails the phase.
func (sb *Sealer) track(ctx context.Context, sector storiface.SectorRef, ev sectorstate.Event) {
	if sb.states == nil {
		return
	}

	si, err := sb.states.Get(ctx, sector.ID.Number)
	switch {
	case errors.Is(err, sectorstate.ErrNotFound):
		if err := sb.states.Begin(ctx, sector.ID.Number, nil); err != nil {
			log.Warnw("tracking sector", "sector", sector.ID, "error", err)
			return
		}
	case err != nil:
		log.Warnw("reading sector state", "sector", sector.ID, "error", err)
		return
	case si.State == sectorstate.Failed:
		if _, isFail := ev.(sectorstate.EvFailed); isFail {
			return
		}
		if _, err := sb.states.Send(ctx, sector.ID.Number, sectorstate.EvRetry{}); err != nil {
			log.Warnw("retrying sector", "sector", sector.ID, "error", err)
		}
	}

	if _, err := sb.states.Send(ctx, sector.ID.Number, ev); err != nil {
		log.Warnw("recording sector state", "sector", sector.ID, "error", err)
	}
}

func (sb *Sealer) trackErr(ctx context.Context, sector storiface.SectorRef, err error) {
	if err != nil {
		sb.track(ctx, sector, sectorstate.EvFailed{Err: err})
	}
}

package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/filecoin-project/sector-proofs/build"
)

// Distributions
var workMillisecondsDistribution = view.Distribution(
	1, 5, 10, 50, 100, 250, 500, 1000, 2000, 5000, 10_000, 30_000, 60_000, // test sizes
	2*60_000, 5*60_000, 10*60_000, 15*60_000, 30*60_000, 60*60_000, 120*60_000, // PC2 / C2 range
	180*60_000, 240*60_000, 300*60_000, 400*60_000, 600*60_000, 1000*60_000, // PC1 range
)

var countDistribution = view.Distribution(0, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192)

// Tags
var (
	Version, _ = tag.NewKey("version")
	Commit, _  = tag.NewKey("commit")

	TaskType, _   = tag.NewKey("task_type")
	SectorSize, _ = tag.NewKey("sector_size")
	PoStType, _   = tag.NewKey("post_type")
	AggVersion, _ = tag.NewKey("aggregation_version")
)

// Measures
var (
	Info = stats.Int64("info", "Arbitrary counter to tag proofs info to", stats.UnitDimensionless)

	SealPhaseDuration   = stats.Float64("sealing/phase_ms", "Duration of a sealing phase", stats.UnitMilliseconds)
	SealPhaseFailures   = stats.Int64("sealing/phase_failures", "Number of failed sealing phases", stats.UnitDimensionless)
	UpdatePhaseDuration = stats.Float64("update/phase_ms", "Duration of a sector update phase", stats.UnitMilliseconds)

	PoStDuration      = stats.Float64("post/duration_ms", "Duration of post proof generation", stats.UnitMilliseconds)
	PoStFaultySectors = stats.Int64("post/faulty_sectors", "Number of sectors that could not be proven", stats.UnitDimensionless)

	AggregateProofs   = stats.Int64("aggregate/proofs", "Number of seal proofs folded into one aggregate", stats.UnitDimensionless)
	AggregateDuration = stats.Float64("aggregate/duration_ms", "Duration of seal proof aggregation", stats.UnitMilliseconds)
)

var (
	InfoView = &view.View{
		Name:        "info",
		Description: "Proofs module information",
		Measure:     Info,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit},
	}
	SealPhaseDurationView = &view.View{
		Measure:     SealPhaseDuration,
		Aggregation: workMillisecondsDistribution,
		TagKeys:     []tag.Key{TaskType, SectorSize},
	}
	SealPhaseFailuresView = &view.View{
		Measure:     SealPhaseFailures,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{TaskType, SectorSize},
	}
	UpdatePhaseDurationView = &view.View{
		Measure:     UpdatePhaseDuration,
		Aggregation: workMillisecondsDistribution,
		TagKeys:     []tag.Key{TaskType, SectorSize},
	}
	PoStDurationView = &view.View{
		Measure:     PoStDuration,
		Aggregation: workMillisecondsDistribution,
		TagKeys:     []tag.Key{PoStType, SectorSize},
	}
	PoStFaultySectorsView = &view.View{
		Measure:     PoStFaultySectors,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{PoStType, SectorSize},
	}
	AggregateProofsView = &view.View{
		Measure:     AggregateProofs,
		Aggregation: countDistribution,
		TagKeys:     []tag.Key{AggVersion},
	}
	AggregateDurationView = &view.View{
		Measure:     AggregateDuration,
		Aggregation: workMillisecondsDistribution,
		TagKeys:     []tag.Key{AggVersion},
	}
)

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = []*view.View{
	InfoView,
	SealPhaseDurationView,
	SealPhaseFailuresView,
	UpdatePhaseDurationView,
	PoStDurationView,
	PoStFaultySectorsView,
	AggregateProofsView,
	AggregateDurationView,
}

// RecordInfo tags the info measure with the build version.
func RecordInfo(ctx context.Context) error {
	ctx, err := tag.New(ctx,
		tag.Insert(Version, build.BuildVersion),
		tag.Insert(Commit, build.CurrentCommit),
	)
	if err != nil {
		return err
	}
	stats.Record(ctx, Info.M(1))
	return nil
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Milliseconds())
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}

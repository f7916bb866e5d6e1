package config

// // NOTE: ONLY PUT STRUCT DEFINITIONS IN THIS FILE

// Config is the proofs-bench config
type Config struct {
	Logging Logging
	Sealing SealingConfig
	Proving ProvingConfig
	Storage StorageConfig
	Metrics MetricsConfig
}

// Logging is the logging system config
type Logging struct {
	// SubsystemLevels specify per-subsystem log levels
	SubsystemLevels map[string]string
}

type SealingConfig struct {
	// Size of the sectors sealed, updated and aggregated, like "2KiB" or "32GiB".
	SectorSize string

	// Proof api version sectors are sealed with, "1.0.0" or "1.1.0".
	APIVersion string

	// Actor id of the miner the prover id is derived from.
	MinerID uint64

	// Aggregation proof version, "v1" or "v2".
	AggregateVersion string
}

type ProvingConfig struct {
	// Maximum number of sector replicas read in parallel when generating
	// vanilla post proofs. 0 uses one per cpu.
	Parallel int

	// Number of sectors in one window post partition. 0 keeps the default of
	// the sector size.
	WindowPoStSectorsPerPartition uint64

	// Maximum amount of time a provability check of all sectors may take.
	CheckTimeout Duration
}

type StorageConfig struct {
	// Directory holding the sector files, one subdirectory per file type.
	Path string

	// Directory of the sector state database. Defaults to "sectors" in Path.
	StatePath string
}

type MetricsConfig struct {
	// Address the prometheus metrics endpoint listens on. Empty disables it.
	ListenAddress string

	// Namespace metric names are prefixed with.
	Namespace string
}

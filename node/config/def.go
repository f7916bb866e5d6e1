package config

import (
	"encoding"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
)

// DefaultConfig returns the default config
func DefaultConfig() *Config {
	return &Config{
		Logging: Logging{
			SubsystemLevels: map[string]string{},
		},
		Sealing: SealingConfig{
			SectorSize:       "2KiB",
			APIVersion:       "1.1.0",
			MinerID:          1000,
			AggregateVersion: "v2",
		},
		Proving: ProvingConfig{
			Parallel:     0,
			CheckTimeout: Duration(20 * time.Minute),
		},
		Storage: StorageConfig{
			Path: "~/.proofs-bench",
		},
		Metrics: MetricsConfig{
			Namespace: "proofs",
		},
	}
}

// Size parses SectorSize.
func (c SealingConfig) Size() (abi.SectorSize, error) {
	ss, err := units.RAMInBytes(c.SectorSize)
	if err != nil {
		return 0, xerrors.Errorf("parsing sector size %q: %w", c.SectorSize, err)
	}
	return abi.SectorSize(ss), nil
}

func (c SealingConfig) AggregationProof() (abi.RegisteredAggregationProof, error) {
	switch c.AggregateVersion {
	case "v1":
		return abi.RegisteredAggregationProof_SnarkPackV1, nil
	case "v2":
		return abi.RegisteredAggregationProof_SnarkPackV2, nil
	default:
		return 0, xerrors.Errorf("unknown aggregation version %q", c.AggregateVersion)
	}
}

// Root returns the expanded storage path.
func (c StorageConfig) Root() (string, error) {
	p, err := homedir.Expand(c.Path)
	if err != nil {
		return "", xerrors.Errorf("expanding storage path: %w", err)
	}
	return p, nil
}

// StateRoot returns the expanded state database path.
func (c StorageConfig) StateRoot() (string, error) {
	if c.StatePath == "" {
		root, err := c.Root()
		if err != nil {
			return "", err
		}
		return filepath.Join(root, "sectors"), nil
	}

	p, err := homedir.Expand(c.StatePath)
	if err != nil {
		return "", xerrors.Errorf("expanding state path: %w", err)
	}
	return p, nil
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}

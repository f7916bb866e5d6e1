package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"
)

func TestDecodeNothing(t *testing.T) {
	cfg, err := FromFile(os.DevNull, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	cfg, err = FromFile(filepath.Join(t.TempDir(), "missing.toml"), DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.Error(t, err)
}

func TestParitalConfig(t *testing.T) {
	cfgString := `
		[Sealing]
		SectorSize = "32GiB"
		AggregateVersion = "v1"
		[Proving]
		Parallel = 4
		CheckTimeout = "30s"
	`
	expected := DefaultConfig()
	expected.Sealing.SectorSize = "32GiB"
	expected.Sealing.AggregateVersion = "v1"
	expected.Proving.Parallel = 4
	expected.Proving.CheckTimeout = Duration(30 * time.Second)

	cfg, err := FromReader(bytes.NewReader([]byte(cfgString)), DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, expected, cfg)

	ss, err := cfg.Sealing.Size()
	require.NoError(t, err)
	require.Equal(t, abi.SectorSize(32<<30), ss)

	agg, err := cfg.Sealing.AggregationProof()
	require.NoError(t, err)
	require.Equal(t, abi.RegisteredAggregationProof_SnarkPackV1, agg)
}

func TestUnknownKeys(t *testing.T) {
	_, err := FromReader(strings.NewReader("[Sealing]\nSectorSise = \"2KiB\"\n"), DefaultConfig())
	require.Error(t, err)
}

func TestCommentedDefaultRoundTrip(t *testing.T) {
	b, err := ConfigComment(DefaultConfig())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(b, []byte("# Default config:\n")))

	// every value is commented out, so the sections decode to defaults
	cfg, err := FromReader(bytes.NewReader(b), DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestStoragePaths(t *testing.T) {
	c := StorageConfig{Path: "/tmp/bench"}
	root, err := c.Root()
	require.NoError(t, err)
	require.Equal(t, "/tmp/bench", root)

	st, err := c.StateRoot()
	require.NoError(t, err)
	require.Equal(t, "/tmp/bench/sectors", st)

	c.StatePath = "/var/states"
	st, err = c.StateRoot()
	require.NoError(t, err)
	require.Equal(t, "/var/states", st)
}

func TestConfigUpdate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proving.Parallel = 8
	cfg.Sealing.MinerID = 1234

	b, err := ConfigUpdate(cfg, DefaultConfig())
	require.NoError(t, err)

	for _, line := range strings.Split(string(b), "\n") {
		l := strings.TrimSpace(line)
		switch {
		case strings.Contains(l, "Parallel"), strings.Contains(l, "MinerID"):
			require.False(t, strings.HasPrefix(l, "#"), line)
		case strings.Contains(l, "SectorSize"):
			require.True(t, strings.HasPrefix(l, "#"), line)
		}
	}

	got, err := FromReader(bytes.NewReader(b), DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

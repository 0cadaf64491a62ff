package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBootstrappingConfigFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadBootstrappingConfigFrom(filepath.Join(t.TempDir(), "bootstrapping.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultBootstrappingConfig(), cfg)
	require.NotZero(t, cfg.BootSlotSize)
	require.NotZero(t, cfg.SystemSlotSize)
}

func TestLoadBootstrappingConfigFromOverridesSlotSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrapping.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
layout = "mbr"
config-partition-size = 512
boot-slot-size = 512
system-slot-size = 8192
data-partition-size = 65536
`), 0o644))

	cfg, err := LoadBootstrappingConfigFrom(path)
	require.NoError(t, err)
	require.Equal(t, "mbr", cfg.Layout)
	require.EqualValues(t, 512, cfg.ConfigPartitionSize)
	require.EqualValues(t, 512, cfg.BootSlotSize)
	require.EqualValues(t, 8192, cfg.SystemSlotSize)
	require.EqualValues(t, 65536, cfg.DataPartitionSize)
}

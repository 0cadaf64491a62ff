package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// The fixture below mirrors the test in the original Rust
// system/config.rs, translated into this controller's TOML schema.
const testSystemTOML = `
[config-partition]
disabled = false
device = "/dev/sda1"

[data-partition]
disabled = false
partition = 7

[boot-flow]
type = "u-boot"

[slots.boot-a]
type = "block"
partition = 2

[slots.boot-b]
type = "block"
device = "/dev/sda3"

[slots.system-a]
type = "block"
device = "/dev/sda4"

[slots.system-b]
type = "block"
device = "/dev/sda5"

[slots.app-config]
type = "block"
device = "/dev/sda6"
protected = true

[boot-groups.a]
slots = { boot = "boot-a", system = "system-a" }

[boot-groups.b]
slots = { boot = "boot-b", system = "system-b" }
`

func TestLoadSystemConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.toml")
	require.NoError(t, os.WriteFile(path, []byte(testSystemTOML), 0o644))

	cfg, err := LoadSystemConfigFrom(path)
	require.NoError(t, err)

	require.Equal(t, "/dev/sda1", cfg.ConfigPartition.Device)
	require.Equal(t, uint32(7), cfg.DataPartition.Partition)
	require.Equal(t, "u-boot", cfg.BootFlow.Type)
	require.Len(t, cfg.Slots, 5)
	require.True(t, cfg.Slots["app-config"].Protected)
	require.Equal(t, "system-a", cfg.BootGroups["a"].Slots["system"])
	require.Equal(t, "boot-b", cfg.BootGroups["b"].Slots["boot"])
}

func TestLoadSystemConfigMissingIsDefault(t *testing.T) {
	cfg, err := LoadSystemConfigFrom(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Empty(t, cfg.Slots)
}

func TestLoadSystemConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := LoadSystemConfigFrom(path)
	require.Error(t, err)
}

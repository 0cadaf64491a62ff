package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// BootstrappingConfig is the parsed form of /etc/rugix/bootstrapping.toml:
// the default partition layout used to bootstrap a fresh root device (§4.1
// create_partitions).
type BootstrappingConfig struct {
	// Layout is "mbr" or "gpt".
	Layout string `toml:"layout"`
	// ConfigPartitionSize in MiB, sized when creating the layout from scratch.
	ConfigPartitionSize uint64 `toml:"config-partition-size"`
	// BootSlotSize in MiB, applied to both boot-a and boot-b.
	BootSlotSize uint64 `toml:"boot-slot-size"`
	// SystemSlotSize in MiB, applied to both system-a and system-b.
	SystemSlotSize uint64 `toml:"system-slot-size"`
	// DataPartitionSize in MiB; zero means "the rest of the disk".
	DataPartitionSize uint64 `toml:"data-partition-size"`
}

// DefaultBootstrappingConfig picks GPT with the default image layout's
// bakery target sizes: a 128 MiB config partition, 256 MiB boot slots, and
// 4 GiB system slots, with the data partition taking the rest of the disk.
func DefaultBootstrappingConfig() BootstrappingConfig {
	return BootstrappingConfig{
		Layout:              "gpt",
		ConfigPartitionSize: 128,
		BootSlotSize:        256,
		SystemSlotSize:      4096,
		DataPartitionSize:   0,
	}
}

// LoadBootstrappingConfig reads bootstrapping.toml.
func LoadBootstrappingConfig() (BootstrappingConfig, error) {
	return LoadBootstrappingConfigFrom(constants.BootstrappingConfigPath)
}

// LoadBootstrappingConfigFrom is LoadBootstrappingConfig parameterized on
// path, for tests.
func LoadBootstrappingConfigFrom(path string) (BootstrappingConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultBootstrappingConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return BootstrappingConfig{}, ctrlerr.Wrap(ctrlerr.IoError, "reading bootstrapping configuration", err)
	}
	cfg := DefaultBootstrappingConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return BootstrappingConfig{}, ctrlerr.Wrap(ctrlerr.ConfigInvalid, "parsing bootstrapping.toml", err)
	}
	return cfg, nil
}

// writeTOMLAtomic serializes v as TOML and replaces path atomically via
// write-temp+fsync+rename (renameio), the same crash-safe replacement
// strategy the Boot Flow Driver uses for autoboot.txt (§4.4, §9).
func writeTOMLAtomic(path string, v interface{}) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "creating temp file", err)
	}
	defer t.Cleanup()

	enc := toml.NewEncoder(t)
	if err := enc.Encode(v); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "encoding toml", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "replacing config file", err)
	}
	return nil
}

// Package config loads and represents the controller's TOML configuration
// files (spec §6): system.toml, state.toml, bootstrapping.toml, and the
// per-component state/*.toml persist declarations.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// SystemConfig is the parsed form of /etc/rugix/system.toml.
type SystemConfig struct {
	ConfigPartition PartitionConfig         `toml:"config-partition"`
	DataPartition   PartitionConfig         `toml:"data-partition"`
	Slots           map[string]SlotConfig   `toml:"slots"`
	BootGroups      map[string]BootGroupCfg `toml:"boot-groups"`
	BootFlow        BootFlowConfig          `toml:"boot-flow"`
}

// PartitionConfig identifies the config or data partition, either disabled,
// by device path, or by partition number on the root device.
type PartitionConfig struct {
	Disabled  bool   `toml:"disabled"`
	Device    string `toml:"device"`
	Partition uint32 `toml:"partition"`
}

// SlotConfig is a [slots.<name>] table. Only the "block" variant is
// TOML-declarable; "file" slots are always resolved relative to a block
// slot's filesystem at payload-install time (§3 Slot).
type SlotConfig struct {
	Type      string `toml:"type"`
	Device    string `toml:"device"`
	Partition uint32 `toml:"partition"`
	// Protected marks a slot (e.g. an application config partition) that
	// must never be written by the installer even when not part of any
	// boot group (supplements DEFAULT_MBR_SLOTS-adjacent original-source
	// behavior, see SPEC_FULL.md §Supplemented features 2).
	Protected bool `toml:"protected"`
}

// BootGroupCfg is a [boot-groups.<name>] table: an alias -> slot-name map.
type BootGroupCfg struct {
	Slots map[string]string `toml:"slots"`
}

// BootFlowConfig is the [boot-flow] table selecting the driver variant (§4.4).
type BootFlowConfig struct {
	Type    string `toml:"type"`
	Command string `toml:"command"` // only used when Type == "custom"
}

// DefaultSystemConfig returns the zero-value configuration used when
// system.toml does not exist: no explicit slots/groups, boot flow
// auto-detected at runtime.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{}
}

// LoadSystemConfig reads and parses system.toml, or returns the default
// configuration if the file does not exist.
func LoadSystemConfig() (SystemConfig, error) {
	return LoadSystemConfigFrom(constants.SystemConfigPath)
}

// LoadSystemConfigFrom is LoadSystemConfig parameterized on path, for tests.
func LoadSystemConfigFrom(path string) (SystemConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultSystemConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SystemConfig{}, ctrlerr.Wrap(ctrlerr.IoError, "reading system configuration", err)
	}
	var cfg SystemConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return SystemConfig{}, ctrlerr.Wrap(ctrlerr.ConfigInvalid, fmt.Sprintf("parsing %s", path), err)
	}
	return cfg, nil
}

package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// OverlayPolicy is the §3 Overlay Configuration: discard (default) or
// persist.
type OverlayPolicy string

const (
	OverlayDiscard OverlayPolicy = "discard"
	OverlayPersist OverlayPolicy = "persist"
)

// StateConfig is the parsed form of /etc/rugix/state.toml.
type StateConfig struct {
	Overlay OverlayPolicy `toml:"overlay"`
}

// DefaultStateConfig is discard-on-every-boot, the spec's default.
func DefaultStateConfig() StateConfig {
	return StateConfig{Overlay: OverlayDiscard}
}

// LoadStateConfig reads state.toml, defaulting to OverlayDiscard.
func LoadStateConfig() (StateConfig, error) {
	return LoadStateConfigFrom(constants.StateConfigPath)
}

// LoadStateConfigFrom is LoadStateConfig parameterized on path, for tests.
func LoadStateConfigFrom(path string) (StateConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultStateConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return StateConfig{}, ctrlerr.Wrap(ctrlerr.IoError, "reading state configuration", err)
	}
	cfg := DefaultStateConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return StateConfig{}, ctrlerr.Wrap(ctrlerr.ConfigInvalid, "parsing state.toml", err)
	}
	if cfg.Overlay == "" {
		cfg.Overlay = OverlayDiscard
	}
	return cfg, nil
}

// ForcePersist rewrites state.toml to force the given overlay policy,
// implementing `rugix-ctrl state overlay force-persist <true|false>` (§6).
// The caller makes the file writable first (the force-persist command mounts
// the system slot read-write at a scratch point); this function only
// performs the atomic replace.
func ForcePersist(path string, persist bool) error {
	cfg := DefaultStateConfig()
	if existing, err := LoadStateConfigFrom(path); err == nil {
		cfg = existing
	}
	if persist {
		cfg.Overlay = OverlayPersist
	} else {
		cfg.Overlay = OverlayDiscard
	}
	return writeTOMLAtomic(path, cfg)
}

package bootflow

import (
	"os"
	"path/filepath"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// Detect implements the §4.4 runtime-detection fallback used when
// system.toml's [boot-flow] table does not name a type: inspect the config
// partition for each variant's telltale file, in the documented order.
func Detect(configDir string, registry *slots.Registry) (Flow, error) {
	if _, err := os.Stat(filepath.Join(configDir, autobootFileName)); err == nil {
		return NewTryBoot(configDir, registry), nil
	}
	if _, err := os.Stat(filepath.Join(configDir, bootpartDefaultEnvName)); err == nil {
		return NewUBoot(configDir, registry), nil
	}
	efiDir := filepath.Join(configDir, "EFI")
	grubCfg := filepath.Join(configDir, "EFI", "BOOT", "grub.cfg")
	if _, err := os.Stat(efiDir); err == nil {
		if _, err := os.Stat(grubCfg); err == nil {
			return NewGrubEFI(configDir, registry), nil
		}
	}
	return nil, ctrlerr.New(ctrlerr.BootFlowUnknown, "unable to detect boot flow from config partition contents")
}

// New builds the configured Flow, honoring an explicit [boot-flow] type
// when present and falling back to Detect otherwise.
func New(cfg config.BootFlowConfig, configDir string, registry *slots.Registry) (Flow, error) {
	switch cfg.Type {
	case "tryboot":
		return NewTryBoot(configDir, registry), nil
	case "u-boot":
		return NewUBoot(configDir, registry), nil
	case "grub-efi":
		return NewGrubEFI(configDir, registry), nil
	case "custom":
		if cfg.Command == "" {
			return nil, ctrlerr.New(ctrlerr.ConfigInvalid, "boot-flow type \"custom\" requires a command")
		}
		return NewCustom(cfg.Command), nil
	case "systemd-boot":
		// Reserved (§Open Question 1): sketched in the design but not
		// implemented in this controller.
		return nil, ctrlerr.New(ctrlerr.BootFlowUnknown, "systemd-boot boot flow is reserved and not implemented")
	case "":
		return Detect(configDir, registry)
	default:
		return nil, ctrlerr.New(ctrlerr.ConfigInvalid, "unknown boot-flow type "+cfg.Type)
	}
}

package state

import (
	"path/filepath"

	"github.com/rugix/rugix-ctrl-go/pkg/config"
)

// overlayLocation is the resolved upper/work pair for the root overlay,
// either transient (tmpfs, discarded across reboots) or persistent (a
// per-group directory on the data partition).
type overlayLocation struct {
	Backing string // "tmpfs" or "data"
	Upper   string
	Work    string
}

// resolveOverlayLocation implements the overlay-policy decision of §4.6
// point 6: "discard" gets a fresh tmpfs-backed upper/work under runDir;
// "persist" gets the per-group directory overlay/<group> on the data
// partition, created if absent. Pure and unit-testable — the actual tmpfs
// mount and directory creation happen in the DAG step that calls it.
func resolveOverlayLocation(policy config.OverlayPolicy, dataMount, runDir, group string) overlayLocation {
	if policy == config.OverlayPersist {
		base := filepath.Join(dataMount, "overlay", group)
		return overlayLocation{
			Backing: "data",
			Upper:   filepath.Join(base, "upper"),
			Work:    filepath.Join(base, "work"),
		}
	}
	base := filepath.Join(runDir, "overlay-tmpfs")
	return overlayLocation{
		Backing: "tmpfs",
		Upper:   filepath.Join(base, "upper"),
		Work:    filepath.Join(base, "work"),
	}
}

package state

import (
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// DetectActiveGroup implements the §3 Boot Group determination shared by
// the boot-time DAG (C6 point 3) and the Coordinator (C7, which needs the
// same answer outside of a boot to run `system commit`/`system info`): the
// kernel cmdline override wins if present, otherwise the group is inferred
// from which slot's device backs the current root mount. Slot devices are
// resolved the same way the DAG resolves them for mounting (an explicit
// device path, or the default slot's partition number against the
// discovered root device) — a slot declared only by partition number never
// has slot.Device set, so comparing that field directly would never match.
func DetectActiveGroup(registry *slots.Registry) (string, error) {
	if group, ok := utils.ActiveGroupFromCmdline(); ok {
		return group, nil
	}
	source, err := utils.RootMountSource()
	if err != nil {
		return "", ctrlerr.Wrap(ctrlerr.BootFlowState, "determining active boot group from root mount", err)
	}
	for _, name := range registry.GroupNames() {
		group, _ := registry.Group(name)
		for _, slotName := range group.Aliases {
			slot, ok := registry.Slot(slotName)
			if !ok || slot.Kind != slots.KindBlock {
				continue
			}
			device, err := resolveSlotDevice(slot)
			if err != nil {
				continue
			}
			if device == source {
				return name, nil
			}
		}
	}
	return "", ctrlerr.New(ctrlerr.BootFlowState, "could not determine active boot group from root mount source "+source)
}

// Package slots implements the Slot Registry (C3): an in-memory model of a
// system's slots and boot groups, built from configuration, with no I/O of
// its own — actual reads/writes go through pkg/blockio.
package slots

import (
	"fmt"
	"sort"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
)

// Kind distinguishes the two slot variants of §3.
type Kind int

const (
	// KindBlock is a slot backed by a partition, by device path or by root
	// device partition number.
	KindBlock Kind = iota
	// KindFile is a path inside another slot's filesystem, e.g. for kernel
	// payloads that live inside a boot slot.
	KindFile
)

// Slot is a named, typed destination (§3).
type Slot struct {
	Name      string
	Kind      Kind
	Device    string // for KindBlock
	Partition uint32 // for KindBlock, resolved against the root device
	ParentRef string // for KindFile: slot name owning the filesystem
	FilePath  string // for KindFile: path within the parent slot
	Protected bool
}

// Registry is the Slot Registry: a pure in-memory model of slots and boot
// groups (§4.3).
type Registry struct {
	slots      map[string]*Slot
	groups     map[string]*Group
	activeName string
}

// Group is a named set of slots with a local alias mapping (§3 Boot Group).
type Group struct {
	Name    string
	Aliases map[string]string // alias -> slot name
}

// NewFromConfig builds a Registry from a parsed system configuration and the
// currently active boot group's name (as determined by the caller via the
// kernel cmdline or the mount source of "/", per §3).
func NewFromConfig(cfg config.SystemConfig, activeGroup string) (*Registry, error) {
	r := &Registry{
		slots:      map[string]*Slot{},
		groups:     map[string]*Group{},
		activeName: activeGroup,
	}

	slotCfgs := cfg.Slots
	groupCfgs := cfg.BootGroups
	if len(slotCfgs) == 0 {
		slotCfgs = defaultSlots()
	}
	if len(groupCfgs) == 0 {
		groupCfgs = defaultBootGroups()
	}

	for name, sc := range slotCfgs {
		if sc.Type != "" && sc.Type != "block" {
			return nil, ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("slot %q: unsupported slot type %q", name, sc.Type))
		}
		if sc.Device == "" && sc.Partition == 0 {
			return nil, ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("slot %q: neither device nor partition configured", name))
		}
		r.slots[name] = &Slot{
			Name:      name,
			Kind:      KindBlock,
			Device:    sc.Device,
			Partition: sc.Partition,
			Protected: sc.Protected,
		}
	}

	for name, gc := range groupCfgs {
		aliases := map[string]string{}
		for alias, slotName := range gc.Slots {
			if _, ok := r.slots[slotName]; !ok {
				return nil, ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("boot group %q: slot %q does not exist", name, slotName))
			}
			aliases[alias] = slotName
		}
		r.groups[name] = &Group{Name: name, Aliases: aliases}
	}

	return r, nil
}

// AddFileSlot registers a "file" slot rooted inside an existing block slot's
// filesystem, e.g. a kernel payload living at /boot/kernel.img inside a
// "boot" slot.
func (r *Registry) AddFileSlot(name, parentSlot, filePath string) error {
	if _, ok := r.slots[parentSlot]; !ok {
		return ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("file slot %q: parent slot %q does not exist", name, parentSlot))
	}
	r.slots[name] = &Slot{Name: name, Kind: KindFile, ParentRef: parentSlot, FilePath: filePath}
	return nil
}

// Slot looks up a concrete slot by name.
func (r *Registry) Slot(name string) (*Slot, bool) {
	s, ok := r.slots[name]
	return s, ok
}

// Group looks up a boot group by name.
func (r *Registry) Group(name string) (*Group, bool) {
	g, ok := r.groups[name]
	return g, ok
}

// ActiveGroupName returns the name of the currently active boot group.
func (r *Registry) ActiveGroupName() string {
	return r.activeName
}

// GroupNames returns all configured boot group names.
func (r *Registry) GroupNames() []string {
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	return names
}

// Resolve implements resolve(payload_slot_ref, target_group) -> Slot (§4.3):
// a payload's slot reference may name a concrete slot or a group-local
// alias, resolved against targetGroup's mapping when it is an alias.
func (r *Registry) Resolve(slotRef, targetGroup string) (*Slot, error) {
	if slot, ok := r.slots[slotRef]; ok {
		return slot, nil
	}
	group, ok := r.groups[targetGroup]
	if !ok {
		return nil, ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("unknown boot group %q", targetGroup))
	}
	slotName, ok := group.Aliases[slotRef]
	if !ok {
		return nil, ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("slot reference %q is neither a slot name nor an alias of group %q", slotRef, targetGroup))
	}
	slot, ok := r.slots[slotName]
	if !ok {
		return nil, ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("group %q alias %q refers to missing slot %q", targetGroup, slotRef, slotName))
	}
	return slot, nil
}

// IsActive implements is_active(slot) -> bool (§4.3): true if the slot is a
// member of the currently active boot group.
func (r *Registry) IsActive(slotName string) bool {
	group, ok := r.groups[r.activeName]
	if !ok {
		return false
	}
	for _, member := range group.Aliases {
		if member == slotName {
			return true
		}
	}
	return false
}

// ChooseInstallGroup implements choose_install_group() -> Group (§4.3):
// selects the non-active group by default, refusing to choose the active
// group. With more than two groups configured, the first non-active group
// found (in a stable, sorted order) is chosen.
func (r *Registry) ChooseInstallGroup() (*Group, error) {
	names := r.GroupNames()
	sort.Strings(names)
	for _, name := range names {
		if name != r.activeName {
			return r.groups[name], nil
		}
	}
	return nil, ctrlerr.New(ctrlerr.ConfigInvalid, "no non-active boot group available to install into")
}

// CheckWritable enforces the §4.3 invariant: writing to an active slot is
// rejected with ActiveSlotProtected unless an explicit override is given.
// The override alone lifts the check; whether the slot backs the currently
// running filesystem is not examined here. Protected slots (§Supplemented
// features 2) can never be overridden.
func (r *Registry) CheckWritable(slotName string, override bool) error {
	slot, ok := r.slots[slotName]
	if !ok {
		return ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("unknown slot %q", slotName))
	}
	if slot.Protected {
		return ctrlerr.New(ctrlerr.ActiveSlotProtected, fmt.Sprintf("slot %q is protected", slotName))
	}
	if r.IsActive(slotName) && !override {
		return ctrlerr.New(ctrlerr.ActiveSlotProtected, fmt.Sprintf("slot %q is part of the active boot group", slotName))
	}
	return nil
}

// defaultSlots mirrors the original Rust source's DEFAULT_GPT_SLOTS (§Supplemented
// features 1): used when system.toml declares no [slots.*] table.
func defaultSlots() map[string]config.SlotConfig {
	return map[string]config.SlotConfig{
		"boot-a":   {Type: "block", Partition: 2},
		"boot-b":   {Type: "block", Partition: 3},
		"system-a": {Type: "block", Partition: 4},
		"system-b": {Type: "block", Partition: 5},
	}
}

// defaultBootGroups mirrors the original Rust source's default boot group
// construction: two groups "a" and "b" mapping "boot"/"system" 1:1.
func defaultBootGroups() map[string]config.BootGroupCfg {
	return map[string]config.BootGroupCfg{
		"a": {Slots: map[string]string{"boot": "boot-a", "system": "system-a"}},
		"b": {Slots: map[string]string{"boot": "boot-b", "system": "system-b"}},
	}
}

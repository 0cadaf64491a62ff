package slots

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix/rugix-ctrl-go/pkg/config"
)

func testConfig() config.SystemConfig {
	return config.SystemConfig{
		Slots: map[string]config.SlotConfig{
			"boot-a":     {Type: "block", Device: "/dev/sda2"},
			"boot-b":     {Type: "block", Device: "/dev/sda3"},
			"system-a":   {Type: "block", Device: "/dev/sda4"},
			"system-b":   {Type: "block", Device: "/dev/sda5"},
			"app-config": {Type: "block", Device: "/dev/sda6", Protected: true},
		},
		BootGroups: map[string]config.BootGroupCfg{
			"a": {Slots: map[string]string{"boot": "boot-a", "system": "system-a"}},
			"b": {Slots: map[string]string{"boot": "boot-b", "system": "system-b"}},
		},
	}
}

func TestResolveConcreteAndAlias(t *testing.T) {
	r, err := NewFromConfig(testConfig(), "a")
	require.NoError(t, err)

	slot, err := r.Resolve("system-b", "b")
	require.NoError(t, err)
	require.Equal(t, "system-b", slot.Name)

	slot, err = r.Resolve("system", "b")
	require.NoError(t, err)
	require.Equal(t, "system-b", slot.Name)
}

func TestIsActive(t *testing.T) {
	r, err := NewFromConfig(testConfig(), "a")
	require.NoError(t, err)

	require.True(t, r.IsActive("system-a"))
	require.True(t, r.IsActive("boot-a"))
	require.False(t, r.IsActive("system-b"))
}

func TestChooseInstallGroupRefusesActive(t *testing.T) {
	r, err := NewFromConfig(testConfig(), "a")
	require.NoError(t, err)

	group, err := r.ChooseInstallGroup()
	require.NoError(t, err)
	require.Equal(t, "b", group.Name)
}

func TestCheckWritableRejectsActiveSlot(t *testing.T) {
	r, err := NewFromConfig(testConfig(), "a")
	require.NoError(t, err)

	err = r.CheckWritable("system-a", false)
	require.Error(t, err)

	err = r.CheckWritable("system-b", false)
	require.NoError(t, err)
}

func TestCheckWritableProtectedSlotNeverOverridable(t *testing.T) {
	r, err := NewFromConfig(testConfig(), "a")
	require.NoError(t, err)

	err = r.CheckWritable("app-config", true)
	require.Error(t, err)
}

func TestDefaultSlotsAndGroups(t *testing.T) {
	r, err := NewFromConfig(config.SystemConfig{}, "a")
	require.NoError(t, err)

	slot, ok := r.Slot("system-a")
	require.True(t, ok)
	require.EqualValues(t, 4, slot.Partition)

	group, ok := r.Group("b")
	require.True(t, ok)
	require.Equal(t, "system-b", group.Aliases["system"])
}

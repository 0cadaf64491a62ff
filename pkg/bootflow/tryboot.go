package bootflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// autobootFileName and attemptsFileName are the files TryBoot keeps on the
// config partition.
const (
	autobootFileName  = "autoboot.txt"
	attemptsFileName  = "autoboot.attempts"
)

// TryBoot implements the Raspberry Pi firmware "tryboot" variant (§4.4):
// the config partition's autoboot.txt selects the default boot partition,
// with a "[tryboot]" section naming a one-shot spare to try first.
//
// Grounded on the original source's boot/tryboot.rs (AUTOBOOT_A/AUTOBOOT_B
// templates, write-new-then-rename commit strategy), generalized from a
// hardcoded two-partition pair to any boot group registered in the slot
// registry.
type TryBoot struct {
	BaseFlow
	configDir       string
	registry        *slots.Registry
	initialAttempts int
}

// NewTryBoot constructs a TryBoot variant rooted at the config partition's
// mount point.
func NewTryBoot(configDir string, registry *slots.Registry) *TryBoot {
	return &TryBoot{
		configDir:       configDir,
		registry:        registry,
		initialAttempts: constants.DefaultRemainingAttempts,
	}
}

func (t *TryBoot) Kind() string { return "tryboot" }

func (t *TryBoot) autobootPath() string  { return filepath.Join(t.configDir, autobootFileName) }
func (t *TryBoot) attemptsPath() string  { return filepath.Join(t.configDir, attemptsFileName) }

func (t *TryBoot) partitionForGroup(group string) (uint32, error) {
	slot, err := t.registry.Resolve("boot", group)
	if err != nil {
		return 0, err
	}
	return slot.Partition, nil
}

func (t *TryBoot) groupForPartition(partition uint32) (string, error) {
	for _, name := range t.registry.GroupNames() {
		slot, err := t.registry.Resolve("boot", name)
		if err == nil && slot.Partition == partition {
			return name, nil
		}
	}
	return "", ctrlerr.New(ctrlerr.BootFlowState, fmt.Sprintf("no boot group maps to partition %d", partition))
}

// GetDefault reads the "[all]" section's boot_partition and maps it back to
// a boot group name.
func (t *TryBoot) GetDefault() (string, error) {
	data, err := os.ReadFile(t.autobootPath())
	if err != nil {
		return "", ctrlerr.Wrap(ctrlerr.IoError, "reading autoboot.txt", err)
	}
	partition, err := parseAutobootSection(string(data), "[all]")
	if err != nil {
		return "", err
	}
	return t.groupForPartition(partition)
}

// SetTryNext writes a "[tryboot]" section pointing at group, leaving the
// current default untouched, so a failed boot of group falls back to it.
func (t *TryBoot) SetTryNext(group string) error {
	defaultGroup, err := t.GetDefault()
	if err != nil {
		return err
	}
	return t.writeAutoboot(defaultGroup, group)
}

// Commit makes group the new default. Fails with NotActive if group is not
// the group the running system actually booted from.
func (t *TryBoot) Commit(group string) error {
	active, ok := utils.ActiveGroupFromCmdline()
	if ok && active != group {
		return ctrlerr.New(ctrlerr.NotActive, fmt.Sprintf("cannot commit group %q while running from %q", group, active))
	}
	spare, err := t.otherGroup(group)
	if err != nil {
		return err
	}
	if err := t.writeAutoboot(group, spare); err != nil {
		return err
	}
	return t.MarkGood(group)
}

func (t *TryBoot) otherGroup(group string) (string, error) {
	for _, name := range t.registry.GroupNames() {
		if name != group {
			return name, nil
		}
	}
	return "", ctrlerr.New(ctrlerr.BootFlowState, "no alternate boot group configured")
}

func (t *TryBoot) writeAutoboot(defaultGroup, tryGroup string) error {
	defaultPartition, err := t.partitionForGroup(defaultGroup)
	if err != nil {
		return err
	}
	tryPartition, err := t.partitionForGroup(tryGroup)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("[all]\ntryboot_a_b=1\nboot_partition=%d\n[tryboot]\nboot_partition=%d\n", defaultPartition, tryPartition)
	return atomicWrite(t.autobootPath(), []byte(text))
}

// RemainingAttempts emulates a bounded attempt counter for a bootloader
// that has no native one (§Open Question 3), tracked in a sibling file.
func (t *TryBoot) RemainingAttempts(group string) (int, bool, error) {
	data, err := os.ReadFile(t.attemptsPath())
	if os.IsNotExist(err) {
		return t.initialAttempts, true, nil
	}
	if err != nil {
		return 0, true, ctrlerr.Wrap(ctrlerr.IoError, "reading autoboot.attempts", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, true, ctrlerr.Wrap(ctrlerr.BootFlowState, "parsing autoboot.attempts", err)
	}
	return n, true, nil
}

func (t *TryBoot) MarkGood(group string) error {
	return atomicWrite(t.attemptsPath(), []byte(strconv.Itoa(t.initialAttempts)))
}

func (t *TryBoot) MarkBad(group string) error {
	return atomicWrite(t.attemptsPath(), []byte("0"))
}

func (t *TryBoot) GetStatus(group string) (Status, error) {
	attempts, _, err := t.RemainingAttempts(group)
	if err != nil {
		return StatusUnknown, err
	}
	if attempts <= 0 {
		return StatusBad, nil
	}
	return StatusUnknown, nil
}

// parseAutobootSection scans an autoboot.txt-style ini file for the
// boot_partition value within the named section, following the original
// source's line-oriented state machine.
func parseAutobootSection(text, section string) (uint32, error) {
	current := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "["):
			current = line
		case strings.HasPrefix(line, "boot_partition=") && current == section:
			n, err := strconv.ParseUint(strings.TrimPrefix(line, "boot_partition="), 10, 32)
			if err != nil {
				return 0, ctrlerr.Wrap(ctrlerr.BootFlowState, "parsing boot_partition", err)
			}
			return uint32(n), nil
		}
	}
	return 0, ctrlerr.New(ctrlerr.BootFlowState, "no boot_partition found in section "+section)
}

// atomicWrite writes content to path via write-temp+fsync+rename, the
// pattern §4.4/§9 require for config-partition writes on FAT.
func atomicWrite(path string, content []byte) error {
	if err := renameio.WriteFile(path, content, 0o644); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "writing "+path, err)
	}
	return nil
}

package state

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spectrocloud-labs/herd"
	"golang.org/x/sys/unix"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/blockio"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
	"github.com/rugix/rugix-ctrl-go/pkg/hooks"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// Build registers the boot sequence of §4.6, plus a write-fstab step, onto g
// in the teacher's dag_steps.go idiom: one exported-shaped method per step,
// chained by herd.WithDeps. The order follows §4.6's numbering except that
// state-reset runs ahead of overlay assembly (see below). Unlike the teacher's DAG
// (which forks between live-media/UKI/normal-boot variants) this controller
// has exactly one boot path, so Build is linear rather than dispatched.
func (s *State) Build(g *herd.Graph) error {
	steps := []struct {
		name string
		deps []string
		fn   func(context.Context) error
	}{
		{constants.OpMountKernelFS, nil, s.mountKernelFS},
		{constants.OpMountConfigPart, []string{constants.OpMountKernelFS}, s.mountConfigPartition},
		{constants.OpDetectGroup, []string{constants.OpMountConfigPart}, s.detectActiveGroup},
		{constants.OpMountSystem, []string{constants.OpDetectGroup}, s.mountSystemSlot},
		{constants.OpMountData, []string{constants.OpDetectGroup}, s.mountDataPartition},
		// state-reset runs ahead of overlay assembly: it wipes whatever the
		// previous boot persisted, and bindState/bindPersist must see that
		// wipe before they seed the state directory from the system image.
		{constants.OpResetHooks, []string{constants.OpMountSystem, constants.OpMountData}, s.runResetHooks},
		{constants.OpAssembleOverlay, []string{constants.OpMountSystem, constants.OpMountData, constants.OpResetHooks}, s.assembleOverlay},
		{constants.OpPivotRoot, []string{constants.OpAssembleOverlay}, s.pivotRoot},
		{constants.OpBindState, []string{constants.OpPivotRoot}, s.bindState},
		{constants.OpBindPersist, []string{constants.OpBindState}, s.bindPersist},
		{constants.OpWriteFstab, []string{constants.OpBindPersist}, s.writeFstab},
		{constants.OpBootstrapHooks, []string{constants.OpWriteFstab}, s.runBootstrapHooks},
		{constants.OpExecInit, []string{constants.OpBootstrapHooks}, s.execInit},
	}

	for _, step := range steps {
		if err := g.Add(step.name, herd.WithDeps(step.deps...), herd.WithCallback(step.fn)); err != nil {
			return ctrlerr.Wrap(ctrlerr.IoError, "registering boot step "+step.name, err)
		}
	}
	return nil
}

// mountKernelFS is §4.6 point 1.
func (s *State) mountKernelFS(ctx context.Context) error {
	kernelMounts := []struct {
		what, where, fstype string
		options              []string
	}{
		{"proc", "/proc", "proc", nil},
		{"sysfs", "/sys", "sysfs", nil},
		{"devtmpfs", "/dev", "devtmpfs", []string{"mode=755"}},
		{"tmpfs", "/run", "tmpfs", []string{"mode=755"}},
	}
	for _, m := range kernelMounts {
		if err := doMount(m.what, m.where, m.fstype, m.options); err != nil {
			return err
		}
	}
	return nil
}

// mountConfigPartition is §4.6 point 2.
func (s *State) mountConfigPartition(ctx context.Context) error {
	if s.System.ConfigPartition.Disabled {
		return nil
	}
	device, err := resolvePartitionDevice(s.System.ConfigPartition)
	if err != nil {
		return err
	}
	return doMount(device, constants.ConfigMount, "auto", []string{"ro"})
}

// detectActiveGroup is §4.6 point 3: the cmdline override takes precedence
// over inspecting the mount source of "/", matching §3's Boot Group
// invariant and the teacher's own DisableImmucore-style cmdline-first
// convention.
func (s *State) detectActiveGroup(ctx context.Context) error {
	group, err := DetectActiveGroup(s.Registry)
	if err != nil {
		return err
	}
	s.Group = group
	return nil
}

// mountSystemSlot is §4.6 point 4: the system partition is never mounted
// read-write here, satisfying the C6 invariant of the same name.
func (s *State) mountSystemSlot(ctx context.Context) error {
	slot, err := s.Registry.Resolve("system", s.Group)
	if err != nil {
		return err
	}
	device, err := resolveSlotDevice(slot)
	if err != nil {
		return err
	}
	return doMount(device, constants.SystemMount, "auto", []string{"ro"})
}

// mountDataPartition is §4.6 point 5.
func (s *State) mountDataPartition(ctx context.Context) error {
	device, err := resolvePartitionDevice(s.System.DataPartition)
	if err != nil {
		return err
	}
	return doMount(device, constants.DataMount, "auto", []string{"rw"})
}

// assembleOverlay is §4.6 points 6-7: resolve the overlay policy, then mount
// the union filesystem at the well-known new-root mount point.
func (s *State) assembleOverlay(ctx context.Context) error {
	loc := resolveOverlayLocation(s.Overlay.Overlay, constants.DataMount, constants.RunDir, s.Group)
	if loc.Backing == "tmpfs" {
		if err := doMount("tmpfs", filepath.Dir(loc.Upper), "tmpfs", []string{"mode=755"}); err != nil {
			return err
		}
	}
	s.overlayLoc = loc
	return overlayMount(constants.NewRootMount, constants.SystemMount, loc.Upper, loc.Work)
}

// pivotRoot is §4.6 point 7's second half: carry the mounts already
// established forward into the new root (move-mount, so nothing is ever
// unmounted mid-boot) and then pivot into it. utils.RootDir honors
// "rugix.nopivot" for test harnesses, matching the teacher's Rootdir
// convention exactly.
func (s *State) pivotRoot(ctx context.Context) error {
	newRoot := utils.RootDir(constants.NewRootMount)
	if newRoot == "/" {
		return nil // test harness / nopivot: nothing to carry over
	}

	// /run carries constants.ConfigMount/DataMount/SystemMount with it: a
	// moved mount's own submounts travel with it, so those three must not
	// be listed separately here — moving them again after /run already
	// moved would try to move a source path that no longer exists.
	carry := []string{"/proc", "/sys", "/dev", "/run"}
	for _, path := range carry {
		if err := moveMount(path, filepath.Join(newRoot, path)); err != nil {
			return err
		}
	}

	oldRoot := filepath.Join(newRoot, "old-root")
	if err := utils.CreateIfNotExists(oldRoot); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "creating pivot_root put_old directory", err)
	}
	if err := unix.PivotRoot(newRoot, oldRoot); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "pivot_root", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "chdir to new root", err)
	}
	// The old root's mounts already moved with their subtrees; the mount
	// point itself is now an empty, detachable directory.
	_ = unix.Unmount("/old-root", unix.MNT_DETACH)
	return nil
}

// bindState is §4.6 point 8.
func (s *State) bindState(ctx context.Context) error {
	profile := s.Profile
	if profile == "" {
		profile = constants.DefaultProfile
	}
	source := filepath.Join(constants.DataMount, constants.StateDataDirName, profile)
	if err := utils.CreateIfNotExists(source); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "creating state directory "+source, err)
	}
	return bindMount(source, constants.StateDir, false)
}

// bindPersist is §4.6 point 9.
func (s *State) bindPersist(ctx context.Context) error {
	entries, err := config.LoadPersistEntriesDefault()
	if err != nil {
		return err
	}
	stateDir := filepath.Join(constants.DataMount, constants.StateDataDirName, s.profileOrDefault())
	if err := seedPersistEntries(entries, constants.SystemMount, stateDir); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "seeding persist paths", err)
	}
	return bindPersistEntries(entries, "/", stateDir)
}

func (s *State) profileOrDefault() string {
	if s.Profile == "" {
		return constants.DefaultProfile
	}
	return s.Profile
}

// runBootstrapHooks is §4.6 point 10, skipped unless Bootstrap was
// requested. On a real first boot the root device usually already carries
// the full config/boot/system/data layout baked in by the image builder;
// applyBootstrapLayout only actually writes a table when create_partitions
// finds none, so re-running it on every bootstrapped boot stays idempotent.
func (s *State) runBootstrapHooks(ctx context.Context) error {
	if !s.Bootstrap {
		return nil
	}
	if err := applyBootstrapLayout(); err != nil {
		return err
	}
	env := hooks.Env{ConfigDir: constants.ConfigMount, DataDir: constants.DataMount, ActiveGroup: s.Group, TargetGroup: s.Group}
	return hooks.Run(ctx, constants.HooksDir, "bootstrap", "run", env, hooks.Abortive)
}

// applyBootstrapLayout implements §4.1's create_partitions for first-boot
// partition expansion, sized from bootstrapping.toml (§6).
func applyBootstrapLayout() error {
	cfg, err := config.LoadBootstrappingConfig()
	if err != nil {
		return err
	}
	root, err := blockio.DiscoverRootDevice()
	if err != nil {
		return err
	}
	layout := blockio.Layout{
		Scheme:                blockio.Scheme(cfg.Layout),
		ConfigPartitionSizeMB: cfg.ConfigPartitionSize,
		BootSlotSizeMB:        cfg.BootSlotSize,
		SystemSlotSizeMB:      cfg.SystemSlotSize,
		DataPartitionSizeMB:   cfg.DataPartitionSize,
	}
	return blockio.CreatePartitions(root, layout, false)
}

// runResetHooks runs ahead of overlay assembly and pivot_root, skipped
// unless the reset sentinel is present. It runs the state-reset hooks, then
// wipes the persisted state directory (and overlay upper, if persisted) so
// bindState/bindPersist re-seed pristine content from the system image; the
// sentinel is cleared only after the wipe succeeds, so a crash mid-reset
// re-attempts on the next boot rather than silently abandoning the request.
func (s *State) runResetHooks(ctx context.Context) error {
	if !s.Reset && !resetRequested(constants.DataMount) {
		return nil
	}
	env := hooks.Env{ConfigDir: constants.ConfigMount, DataDir: constants.DataMount, ActiveGroup: s.Group, TargetGroup: s.Group}
	if err := hooks.Run(ctx, preBootHooksDir(), "state-reset", "run", env, hooks.Abortive); err != nil {
		return err
	}
	if err := s.wipeResetState(); err != nil {
		return err
	}
	return clearReset(constants.DataMount)
}

// preBootHooksDir resolves the hooks directory relative to the still-mounted
// system slot rather than constants.HooksDir: state-reset hooks now run
// before pivot_root makes the assembled root "/", so the hook scripts live
// under the system mount, not under whatever "/" currently resolves to.
func preBootHooksDir() string {
	return filepath.Join(constants.SystemMount, constants.HooksDir)
}

// execInit is §4.6 point 12: hand off to the real init, preserving the
// environment, falling back to an emergency shell on failure per §4.6's
// failure semantics, the same escalation ladder as the teacher's
// UKIBootInitDagStep.
func (s *State) execInit(ctx context.Context) error {
	env := os.Environ()
	if err := unix.Exec(constants.InitBinary, []string{constants.InitBinary}, env); err != nil {
		utils.Log.Err(err).Msg("exec init failed, dropping to emergency shell")
		if shErr := unix.Exec("/bin/sh", []string{"/bin/sh"}, env); shErr != nil {
			utils.Log.Fatal().Msg("could not drop to emergency shell, panicking")
		}
	}
	return nil
}

func resolvePartitionDevice(p config.PartitionConfig) (string, error) {
	if p.Device != "" {
		return p.Device, nil
	}
	root, err := blockio.DiscoverRootDevice()
	if err != nil {
		return "", err
	}
	return root.PartitionDevice(p.Partition), nil
}

func resolveSlotDevice(slot *slots.Slot) (string, error) {
	if slot.Device != "" {
		return slot.Device, nil
	}
	root, err := blockio.DiscoverRootDevice()
	if err != nil {
		return "", err
	}
	return root.PartitionDevice(slot.Partition), nil
}

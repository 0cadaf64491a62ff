// Package cmd wires the Coordinator (C7): the CLI surface of §6, dispatching
// each subcommand to the loaded configuration's boot flow and slot
// registry. Grounded on the teacher's single "start" cli.Command, expanded
// from one action into the documented subcommand tree.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	cmount "github.com/containerd/containerd/mount"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/blockio"
	"github.com/rugix/rugix-ctrl-go/pkg/bootflow"
	"github.com/rugix/rugix-ctrl-go/pkg/bundle"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
	"github.com/rugix/rugix-ctrl-go/pkg/hooks"
	"github.com/rugix/rugix-ctrl-go/pkg/installer"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
	"github.com/rugix/rugix-ctrl-go/pkg/state"
)

// runtime bundles what almost every subcommand needs: configuration, the
// slot registry, the active group, and the bound boot flow.
type runtime struct {
	system   config.SystemConfig
	registry *slots.Registry
	active   string
	flow     bootflow.Flow
}

func loadRuntime() (*runtime, error) {
	sysCfg, err := config.LoadSystemConfig()
	if err != nil {
		return nil, err
	}

	// The active group can only be inferred by inspecting a Registry's slot
	// devices, but Registry construction takes the active group name as an
	// input (so IsActive/ChooseInstallGroup resolve correctly). Bootstrap
	// with an empty active name, detect, then rebuild against the answer.
	// state.Run at boot time runs the same detection but builds its registry
	// only once, with an empty active name.
	bootstrap, err := slots.NewFromConfig(sysCfg, "")
	if err != nil {
		return nil, err
	}
	active, err := state.DetectActiveGroup(bootstrap)
	if err != nil {
		return nil, err
	}
	registry, err := slots.NewFromConfig(sysCfg, active)
	if err != nil {
		return nil, err
	}
	flow, err := bootflow.New(sysCfg.BootFlow, constants.ConfigMount, registry)
	if err != nil {
		return nil, err
	}
	return &runtime{system: sysCfg, registry: registry, active: active, flow: flow}, nil
}

// withLock acquires the whole-system PID lockfile for the duration of fn,
// enforcing §5's "only one update, commit, or state-reset operation at a
// time". Each acquisition gets a fresh operation ID, logged so an operator
// tailing the log can correlate it with the same ID `system info --json`
// reports while the operation is in flight.
func withLock(operation string, fn func() error) error {
	lock, err := utils.AcquireLock(constants.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()
	utils.Log.Info().Str("operation", operation).Str("operation_id", lock.OperationID()).Msg("acquired lock")
	return fn()
}

// Commands is the Coordinator's full CLI surface (§6).
var Commands = []*cli.Command{
	{
		Name:  "update",
		Usage: "manage bundle installation",
		Subcommands: []*cli.Command{
			{
				Name:      "install",
				Usage:     "verify and install a bundle into a boot group",
				ArgsUsage: "<path|->",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "verify-bundle", Usage: "alg:hex root hash to verify against"},
					&cli.StringFlag{Name: "reboot", Value: "no", Usage: "no|yes|spare|tryboot"},
					&cli.StringFlag{Name: "boot-group", Usage: "override choose_install_group"},
				},
				Action: actionUpdateInstall,
			},
		},
	},
	{
		Name:  "system",
		Usage: "inspect and commit the running system",
		Subcommands: []*cli.Command{
			{Name: "commit", Usage: "commit the active group as the durable default", Action: actionSystemCommit},
			{
				Name:  "reboot",
				Usage: "arm the next boot and reboot",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "spare"},
					&cli.StringFlag{Name: "boot-group"},
				},
				Action: actionSystemReboot,
			},
			{
				Name:  "info",
				Usage: "print resolved slot/group/boot-flow state",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json"},
				},
				Action: actionSystemInfo,
			},
		},
	},
	{
		Name:  "state",
		Usage: "manage the overlay state partition",
		Subcommands: []*cli.Command{
			{Name: "reset", Usage: "request a factory reset on next boot", Action: actionStateReset},
			{
				Name:      "overlay",
				Usage:     "manage overlay persistence policy",
				Subcommands: []*cli.Command{
					{
						Name:      "force-persist",
						Usage:     "set the overlay policy to persist or discard",
						ArgsUsage: "<true|false>",
						Action:    actionOverlayForcePersist,
					},
				},
			},
		},
	},
}

func actionUpdateInstall(c *cli.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	src := c.Args().First()
	if src == "" {
		return ctrlerr.New(ctrlerr.ConfigInvalid, "update install requires a bundle path or -")
	}

	var r io.Reader
	if src == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(src)
		if err != nil {
			return ctrlerr.Wrap(ctrlerr.IoError, "opening bundle", err)
		}
		defer f.Close()
		r = f
	}

	var verifyRoot []byte
	if v := c.String("verify-bundle"); v != "" {
		verifyRoot, err = bundle.ParseVerifyBundleFlag(v)
		if err != nil {
			return err
		}
	}

	opts := installer.Options{
		TargetGroup: c.String("boot-group"),
		VerifyRoot:  verifyRoot,
		Reboot:      installer.RebootMode(c.String("reboot")),
		HooksDir:    constants.HooksDir,
		ConfigDir:   constants.ConfigMount,
		DataDir:     constants.DataMount,
		ResolveSlotPath: func(slot *slots.Slot) (string, func(), error) {
			return resolveInstallSlotPath(rt.registry, slot)
		},
	}

	return withLock("update install", func() error {
		return installer.Install(context.Background(), r, rt.registry, rt.flow, opts)
	})
}

func actionSystemCommit(c *cli.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	env := hooks.Env{ConfigDir: constants.ConfigMount, DataDir: constants.DataMount, ActiveGroup: rt.active, TargetGroup: rt.active}
	return withLock("system commit", func() error {
		if err := hooks.Run(context.Background(), constants.HooksDir, "commit", "pre-commit", env, hooks.Abortive); err != nil {
			return err
		}
		if err := rt.flow.Commit(rt.active); err != nil {
			return ctrlerr.Wrap(ctrlerr.BootFlowState, "commit failed", err)
		}
		if err := hooks.Run(context.Background(), constants.HooksDir, "commit", "post-commit", env, hooks.BestEffort); err != nil {
			utils.Log.Warn().Err(err).Msg("post-commit hooks reported failures; commit still succeeded")
		}
		return nil
	})
}

func actionSystemReboot(c *cli.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	target := c.String("boot-group")
	if target == "" && c.Bool("spare") {
		for _, name := range rt.registry.GroupNames() {
			if name != rt.active {
				target = name
				break
			}
		}
	}
	if target == "" {
		target = rt.active
	}

	if target != rt.active {
		if err := rt.flow.SetTryNext(target); err != nil {
			return ctrlerr.Wrap(ctrlerr.BootFlowState, "arming next boot", err)
		}
	}

	utils.Log.Info().Str("target", target).Msg("rebooting")
	return rebootNow()
}

// rebootNow syncs and invokes the system's own reboot binary, the same
// approach the installer takes for --reboot so that firmware-specific flags
// a boot flow sets before rebooting (e.g. tryboot's spare-partition flag)
// survive whatever reboot path the running distribution wires up.
func rebootNow() error {
	unix.Sync()
	cmd := exec.Command("reboot")
	if err := cmd.Run(); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "invoking reboot", err)
	}
	return nil
}

func actionSystemInfo(c *cli.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	def, defErr := rt.flow.GetDefault()
	attempts, hasAttempts, _ := rt.flow.RemainingAttempts(rt.active)
	status, statusErr := rt.flow.GetStatus(rt.active)

	info := map[string]interface{}{
		"active_group": rt.active,
		"boot_flow":    rt.flow.Kind(),
		"groups":       rt.registry.GroupNames(),
	}
	if defErr == nil {
		info["default_group"] = def
	}
	if hasAttempts {
		info["remaining_attempts"] = attempts
	}
	if statusErr == nil {
		info["status"] = status.String()
	}
	if pid, opID, held := utils.PeekLock(constants.LockFile); held {
		info["current_operation"] = map[string]interface{}{"pid": pid, "operation_id": opID}
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	for k, v := range info {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}

func actionStateReset(c *cli.Context) error {
	return withLock("state reset", func() error {
		return state.RequestReset(constants.DataMount)
	})
}

// actionOverlayForcePersist edits state.toml in place on the physical system
// slot rather than through the running overlay: /etc/rugix/state.toml is
// baked into the system slot's filesystem (read before any partition is
// mounted, the same bootstrap-ordering constraint system.toml has), so a
// write through the overlay would only ever land in the current boot's
// upper layer — invisible to a fresh "discard" tmpfs upper on the very next
// boot this command is trying to affect. Mounting the slot read-write at a
// scratch point, edit, unmount, is the only path that actually survives a
// reboot.
func actionOverlayForcePersist(c *cli.Context) error {
	arg := c.Args().First()
	var persist bool
	switch arg {
	case "true":
		persist = true
	case "false":
		persist = false
	default:
		return ctrlerr.New(ctrlerr.ConfigInvalid, "force-persist requires true or false")
	}

	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	slot, err := rt.registry.Resolve("system", rt.active)
	if err != nil {
		return err
	}
	device, err := resolveSlotDevicePath(slot)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "rugix-force-persist-")
	if err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "creating scratch mount point", err)
	}
	defer os.RemoveAll(scratch)

	m := cmount.Mount{Type: "auto", Source: device}
	if err := cmount.All([]cmount.Mount{m}, scratch); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "mounting system slot read-write", err)
	}
	defer unix.Unmount(scratch, unix.MNT_DETACH)

	return config.ForcePersist(filepath.Join(scratch, "etc/rugix/state.toml"), persist)
}

// resolveSlotDevicePath resolves a KindBlock slot to its backing device
// path, used by force-persist (which edits state.toml directly on the system
// slot's block device) and by resolveInstallSlotPath for any block slot.
func resolveSlotDevicePath(slot *slots.Slot) (string, error) {
	if slot.Device != "" {
		return slot.Device, nil
	}
	root, err := blockio.DiscoverRootDevice()
	if err != nil {
		return "", err
	}
	return root.PartitionDevice(slot.Partition), nil
}

// resolveInstallSlotPath resolves a slot to the path a ScopedWriter should
// open (§4.5's write step), covering both slot kinds an install payload can
// target: a KindBlock slot resolves straight to its device, exactly as
// resolveSlotDevicePath does. A KindFile slot (e.g. a kernel image living at
// a fixed path inside a boot slot's filesystem) has no device of its own —
// its parent block slot is mounted read-write at a scratch point, the same
// way actionOverlayForcePersist mounts the system slot to edit state.toml
// outside of the running overlay, and the returned path joins that mount
// point with the file slot's configured path. The returned cleanup unmounts
// the scratch mount; it must run only once the caller is done writing.
func resolveInstallSlotPath(registry *slots.Registry, slot *slots.Slot) (string, func(), error) {
	if slot.Kind == slots.KindBlock {
		path, err := resolveSlotDevicePath(slot)
		return path, nil, err
	}

	parent, ok := registry.Slot(slot.ParentRef)
	if !ok {
		return "", nil, ctrlerr.New(ctrlerr.ConfigInvalid, fmt.Sprintf("file slot %q: parent slot %q does not exist", slot.Name, slot.ParentRef))
	}
	device, err := resolveSlotDevicePath(parent)
	if err != nil {
		return "", nil, err
	}

	scratch, err := os.MkdirTemp("", "rugix-install-slot-")
	if err != nil {
		return "", nil, ctrlerr.Wrap(ctrlerr.IoError, "creating scratch mount point", err)
	}
	cleanup := func() {
		unix.Unmount(scratch, unix.MNT_DETACH)
		os.RemoveAll(scratch)
	}

	m := cmount.Mount{Type: "auto", Source: device}
	if err := cmount.All([]cmount.Mount{m}, scratch); err != nil {
		os.RemoveAll(scratch)
		return "", nil, ctrlerr.Wrap(ctrlerr.IoError, "mounting file slot's parent filesystem", err)
	}

	return filepath.Join(scratch, slot.FilePath), cleanup, nil
}

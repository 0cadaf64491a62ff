// Package installer implements the Installer (C5): the top-level bundle
// installation pipeline (§4.5), a single linear function rather than a DAG
// — §5 is explicit that the controller's core is synchronous and that a
// concurrency model here would only complicate crash-consistency
// reasoning, so each step is a plain call with early return on error.
package installer

import (
	"context"
	"io"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/blockio"
	"github.com/rugix/rugix-ctrl-go/pkg/bootflow"
	"github.com/rugix/rugix-ctrl-go/pkg/bundle"
	"github.com/rugix/rugix-ctrl-go/pkg/hooks"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// RebootMode is the --reboot flag's value (§6).
type RebootMode string

const (
	RebootNo      RebootMode = "no"
	RebootYes     RebootMode = "yes"
	RebootTryboot RebootMode = "tryboot"
	RebootSpare   RebootMode = "spare"
)

// Options configures one Install call.
type Options struct {
	// TargetGroup overrides choose_install_group when non-empty.
	TargetGroup string
	// VerifyRoot is the operator-supplied root hash from --verify-bundle,
	// or nil to trust the bundle's embedded root hash.
	VerifyRoot []byte
	Reboot     RebootMode
	HooksDir   string
	ConfigDir  string
	DataDir    string
	// ResolveSlotPath maps a resolved slot to the on-disk path a
	// ScopedWriter should open: a block device path for KindBlock, or a
	// path inside the parent slot's mounted filesystem for KindFile. The
	// returned cleanup, if non-nil, releases whatever ResolveSlotPath set up
	// to produce that path (e.g. unmounting a scratch mount for a file
	// slot) and must run only after the writer using the path is closed.
	ResolveSlotPath func(*slots.Slot) (path string, cleanup func(), err error)
}

// Install runs the 8-step pipeline of §4.5 against an already-opened bundle
// stream.
func Install(ctx context.Context, r io.Reader, registry *slots.Registry, flow bootflow.Flow, opts Options) error {
	group := opts.TargetGroup
	if group == "" {
		g, err := registry.ChooseInstallGroup()
		if err != nil {
			return err
		}
		group = g.Name
	}

	env := hooks.Env{
		ConfigDir:   opts.ConfigDir,
		DataDir:     opts.DataDir,
		ActiveGroup: registry.ActiveGroupName(),
		TargetGroup: group,
	}

	if err := hooks.Run(ctx, opts.HooksDir, "update-install", "pre-update", env, hooks.Abortive); err != nil {
		return err
	}

	if err := flow.PreInstall(group); err != nil {
		return ctrlerr.Wrap(ctrlerr.BootFlowState, "pre_install failed", err)
	}

	bundleReader, err := bundle.Open(r, opts.VerifyRoot)
	if err != nil {
		return err
	}

	for {
		payload, err := bundleReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := writePayload(registry, group, payload, opts); err != nil {
			return err
		}
	}
	if err := bundleReader.VerifyRootHash(); err != nil {
		return err
	}

	if err := flow.PostInstall(group); err != nil {
		return ctrlerr.Wrap(ctrlerr.BootFlowState, "post_install failed", err)
	}

	if err := flow.SetTryNext(group); err != nil {
		return ctrlerr.Wrap(ctrlerr.BootFlowState, "set_try_next failed", err)
	}

	if err := hooks.Run(ctx, opts.HooksDir, "update-install", "post-update", env, hooks.BestEffort); err != nil {
		utils.Log.Warn().Err(err).Msg("post-update hooks reported failures; install still succeeded")
	}

	return performReboot(opts.Reboot, group, flow)
}

func writePayload(registry *slots.Registry, group string, payload *bundle.PayloadReader, opts Options) error {
	slot, err := registry.Resolve(payload.Meta().SlotRef, group)
	if err != nil {
		return err
	}
	if err := registry.CheckWritable(slot.Name, false); err != nil {
		return err
	}

	path, cleanup, err := opts.ResolveSlotPath(slot)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	writer, err := blockio.OpenSlotWriter(slot, path, int64(payload.Meta().Size))
	if err != nil {
		return err
	}
	defer writer.Close()

	var offset int64
	for {
		block, err := payload.NextBlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			// truncate any partial data on file slots; block slots are
			// left in a non-default, non-active state, which is safe
			// per §4.5 point 4.
			if slot.Kind == slots.KindFile {
				writer.Truncate(offset)
			}
			return err
		}
		decoded, err := bundle.Decompress(payload.Meta().Compression, block)
		if err != nil {
			if slot.Kind == slots.KindFile {
				writer.Truncate(offset)
			}
			return err
		}
		if err := writer.WriteBlockAt(offset, decoded); err != nil {
			return err
		}
		offset += int64(len(decoded))
	}
	return nil
}

func performReboot(mode RebootMode, group string, flow bootflow.Flow) error {
	switch mode {
	case "", RebootNo:
		return nil
	case RebootYes, RebootTryboot, RebootSpare:
		utils.Log.Info().Str("group", group).Str("mode", string(mode)).Msg("rebooting to apply install")
		return rebootNow()
	default:
		return ctrlerr.New(ctrlerr.ConfigInvalid, "unknown --reboot mode "+string(mode))
	}
}

// rebootNow syncs and requests a reboot via the system's own reboot binary,
// matching the original source's preference for that over a raw reboot(2)
// syscall — firmware-specific flags set by a boot flow (e.g. tryboot's
// spare-partition flag) must survive whatever reboot path the running
// distribution actually wires up.
func rebootNow() error {
	unix.Sync()
	cmd := exec.Command("reboot")
	if err := cmd.Run(); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "invoking reboot", err)
	}
	return nil
}

// Package state implements the State Manager (C6): the early-boot process
// that assembles the overlay root and hands off to the real init binary
// (§4.6). It plays the role the teacher's pkg/mount/pkg/state played for
// Kairos' immutable-rootfs boot, generalized from a fixed
// active/passive/recovery image layout to this controller's group/slot
// model, and its WriteDAG/LogIfError helpers are carried over unchanged in
// spirit.
package state

import (
	"fmt"

	"github.com/spectrocloud-labs/herd"

	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// State threads the resolved configuration and boot decisions between DAG
// steps, the role the teacher's mount.State played for its own DAG.
type State struct {
	System   config.SystemConfig
	Overlay  config.StateConfig
	Registry *slots.Registry
	Group    string
	Profile  string

	// NewRoot is not set by Run; the boot steps take this location from
	// utils.RootDir(constants.NewRootMount): where the assembled overlay root
	// is mounted before pivot_root, or "/" under the "rugix.nopivot" cmdline stanza used by
	// test harnesses and non-initramfs invocations, matching the teacher's
	// own Rootdir convention.
	NewRoot string

	// Bootstrap requests bootstrap/* hooks (first boot, or an
	// operator-forced re-bootstrap); Reset requests state-reset/* hooks
	// (the factory-reset sentinel is present on the data partition).
	Bootstrap bool
	Reset     bool

	moved []moveRecord
	// overlayLoc is stashed by assembleOverlay so writeFstab can record the
	// same upper/work directories it mounted, without recomputing the
	// policy decision a second time.
	overlayLoc overlayLocation
}

type moveRecord struct {
	what, where string
}

// WriteDAG renders the executed graph for diagnostics, the same format the
// teacher prints before handing off to init so a stuck boot can be
// diagnosed from the serial console.
func (s *State) WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s) (background: %t) (weak: %t) (run: %t)\n", op.Name, op.Error.Error(), op.Background, op.WeakDeps, op.Executed)
			} else {
				out += fmt.Sprintf(" <%s> (background: %t) (weak: %t) (run: %t)\n", op.Name, op.Background, op.WeakDeps, op.Executed)
			}
		}
	}
	return
}

// LogIfError logs a non-nil error with context and swallows it. The boot
// steps in this package do not call it: each of them, state-reset-hooks
// included, returns its error and so aborts the boot sequence.
func (s *State) LogIfError(e error, msgContext string) {
	if e != nil {
		utils.Log.Err(e).Msg(msgContext)
	}
}

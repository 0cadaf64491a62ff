package state

import (
	"os"
	"path/filepath"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
)

// resetSentinelPath is where `rugix-ctrl state reset` drops its request:
// on the data partition, so it survives the very overlay it triggers a
// rebuild of (§4.6 point 11, §6 "reset is requested by a sentinel file in
// the data partition").
func resetSentinelPath(dataMount string) string {
	return filepath.Join(dataMount, constants.ResetSentinelFile)
}

// resetRequested reports whether the sentinel file is present.
func resetRequested(dataMount string) bool {
	_, err := os.Stat(resetSentinelPath(dataMount))
	return err == nil
}

// requestReset drops the sentinel file, the write side of `state reset`
// (§4.7 Coordinator).
func requestReset(dataMount string) error {
	path := resetSentinelPath(dataMount)
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "writing reset sentinel", err)
	}
	return nil
}

// RequestReset drops the reset sentinel on the data partition, implementing
// `rugix-ctrl state reset` (§4.7): the Coordinator runs post-boot, with the
// data partition already mounted at dataMount by the boot sequence that
// carried it across pivot_root, so no extra mount step is needed here.
func RequestReset(dataMount string) error {
	return requestReset(dataMount)
}

// clearReset removes the sentinel after a reset has run, so the next boot
// does not repeat it (§4.6 point 11: "after reset the sentinel is cleared").
func clearReset(dataMount string) error {
	err := os.Remove(resetSentinelPath(dataMount))
	if err != nil && !os.IsNotExist(err) {
		return ctrlerr.Wrap(ctrlerr.IoError, "clearing reset sentinel", err)
	}
	return nil
}

// wipeResetState discards whatever the previous boot persisted, ahead of
// bindState/bindPersist re-seeding it from the pristine system image: the
// state profile directory, and (only under the "persist" overlay policy)
// the group's overlay upper. Without this, seedPersistEntries only ever
// seeds a destination that is missing, so a modified persist copy would
// otherwise survive a reset untouched.
func (s *State) wipeResetState() error {
	profile := s.profileOrDefault()
	stateDir := filepath.Join(constants.DataMount, constants.StateDataDirName, profile)
	if err := wipeAndRecreate(stateDir); err != nil {
		return err
	}
	loc := resolveOverlayLocation(s.Overlay.Overlay, constants.DataMount, constants.RunDir, s.Group)
	if loc.Backing == "data" {
		if err := wipeAndRecreate(loc.Upper); err != nil {
			return err
		}
	}
	return nil
}

// wipeAndRecreate removes path and everything beneath it, then recreates it
// empty, so whatever seeds it next sees a directory to populate rather than
// either stale content or a missing target.
func wipeAndRecreate(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "removing "+path, err)
	}
	if err := utils.CreateIfNotExists(path); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "recreating "+path, err)
	}
	return nil
}

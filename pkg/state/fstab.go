package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deniswernert/go-fstab"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
)

// overlayToStab converts the overlay location assembleOverlay already
// resolved into an fstab entry, the same shape the teacher's mountToStab
// produced from a mount.Mount.
func overlayToStab(loc overlayLocation) *fstab.Mount {
	return &fstab.Mount{
		Spec:    "overlay",
		File:    "/",
		VfsType: "overlay",
		MntOps: map[string]string{
			"lowerdir": constants.SystemMount,
			"upperdir": loc.Upper,
			"workdir":  loc.Work,
		},
		Freq:   0,
		PassNo: 0,
	}
}

// persistToStab converts a seeded persist entry's bind mount into an fstab
// entry, mirroring persistPaths' own source/dest split.
func persistToStab(entry config.PersistEntry, stateDir string) *fstab.Mount {
	_, dest := persistPaths(entry, "", stateDir)
	return &fstab.Mount{
		Spec:    dest,
		File:    entry.Path(),
		VfsType: "none",
		MntOps:  map[string]string{"bind": ""},
		Freq:    0,
		PassNo:  0,
	}
}

// writeFstab is the new step between the boot sequence's bind mounts and its
// hooks: it records the overlay and every persist bind as durable
// /etc/fstab entries in the assembled root, in the teacher's own
// mountToStab/WriteFstab idiom, so tools that read fstab after boot (or a
// manual remount) see the same layout the boot sequence assembled.
func (s *State) writeFstab(ctx context.Context) error {
	entries, err := config.LoadPersistEntriesDefault()
	if err != nil {
		return err
	}
	stateDir := filepath.Join(constants.DataMount, constants.StateDataDirName, s.profileOrDefault())

	fstabs := []*fstab.Mount{overlayToStab(s.overlayLoc)}
	for _, entry := range entries {
		fstabs = append(fstabs, persistToStab(entry, stateDir))
	}
	return appendFstab(filepath.Join("/", "etc", "fstab"), fstabs)
}

// appendFstab writes each entry on its own line, truncating any stale fstab
// left over from a previous boot's assembled root before writing — unlike
// the teacher's WriteFstab (which appends across the lifetime of a single
// boot's DAG and never runs twice), this step always starts from a fresh
// file since the target path is freshly pivoted into.
func appendFstab(path string, entries []*fstab.Mount) error {
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "opening fstab "+path, err)
	}
	defer f.Close()
	for _, entry := range entries {
		if _, err := fmt.Fprintf(f, "%s\n", entry.String()); err != nil {
			return ctrlerr.Wrap(ctrlerr.IoError, "writing fstab "+path, err)
		}
	}
	return nil
}

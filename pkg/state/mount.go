package state

import (
	"os"
	"time"

	cmount "github.com/containerd/containerd/mount"
	"github.com/avast/retry-go"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
)

// mountRetryOpts bounds the retry attempts spent on a mount syscall to a
// handful of short delays, matching §7's guidance to retry only transient
// mount races (a block device node udev hasn't finished settling yet, a
// partition table re-read still in flight) rather than genuine failures.
var mountRetryOpts = []retry.Option{
	retry.Attempts(4),
	retry.Delay(50 * time.Millisecond),
	retry.LastErrorOnly(true),
}

// doMount mounts a single filesystem, creating its target directory if
// needed and tolerating an already-mounted target — the same idempotent
// pattern the teacher's mountOperation.run() uses so a re-entered boot
// sequence (e.g. after a hook restart) does not fail on its own prior work.
func doMount(what, where, fstype string, options []string) error {
	if err := utils.CreateIfNotExists(where); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "creating mount point "+where, err)
	}
	if mounted, _ := mountinfo.Mounted(where); mounted {
		return nil
	}
	m := cmount.Mount{Type: fstype, Source: what, Options: options}
	err := retry.Do(func() error { return cmount.All([]cmount.Mount{m}, where) }, mountRetryOpts...)
	if err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "mounting "+what+" at "+where, err)
	}
	return nil
}

// moveMount relocates an existing mount from source to target, the trick
// used to carry /proc, /sys, /dev, /run and the already-mounted config/data
// partitions across a pivot_root without ever unmounting the originals.
func moveMount(source, target string) error {
	if err := utils.CreateIfNotExists(target); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "creating move-mount target "+target, err)
	}
	if err := unix.Mount(source, target, "", unix.MS_MOVE, ""); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "moving mount "+source+" to "+target, err)
	}
	return nil
}

// bindMount bind-mounts source onto target, creating target if needed.
func bindMount(source, target string, readOnly bool) error {
	if err := utils.CreateIfNotExists(target); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "creating bind target "+target, err)
	}
	if mounted, _ := mountinfo.Mounted(target); mounted {
		return nil
	}
	flags := uintptr(unix.MS_BIND)
	err := retry.Do(func() error { return unix.Mount(source, target, "", flags, "") }, mountRetryOpts...)
	if err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "bind-mounting "+source+" at "+target, err)
	}
	if readOnly {
		if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return ctrlerr.Wrap(ctrlerr.IoError, "remounting "+target+" read-only", err)
		}
	}
	return nil
}

// overlayMount mounts an overlay filesystem at target with the given lower,
// upper and work directories, creating upper/work first (overlayfs refuses
// to mount over a nonexistent upper or work directory).
func overlayMount(target, lower, upper, work string) error {
	for _, dir := range []string{upper, work} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ctrlerr.Wrap(ctrlerr.IoError, "creating overlay directory "+dir, err)
		}
	}
	options := []string{
		"lowerdir=" + lower,
		"upperdir=" + upper,
		"workdir=" + work,
	}
	return doMount("overlay", target, "overlay", options)
}

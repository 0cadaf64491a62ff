// Package blockio implements the Block I/O & Device Layer (C1): scoped
// access to block devices and files, and partition table discovery and
// creation. No other package touches a raw device or performs a mount
// syscall directly.
package blockio

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// DeviceHandle names a block device, e.g. "/dev/sda" or "/dev/mmcblk0".
type DeviceHandle struct {
	Path string
}

// PartitionDevice returns the device path for partition n on this disk,
// handling the "pN" suffix convention used by devices whose base name ends
// in a digit (mmcblk0 -> mmcblk0p1, nvme0n1 -> nvme0n1p1) versus the plain
// suffix convention (sda -> sda1).
func (d DeviceHandle) PartitionDevice(n uint32) string {
	base := d.Path
	if len(base) > 0 {
		last := base[len(base)-1]
		if last >= '0' && last <= '9' {
			return base + "p" + strconv.FormatUint(uint64(n), 10)
		}
	}
	return base + strconv.FormatUint(uint64(n), 10)
}

// DiscoverRootDevice implements discover_root_device() -> DeviceHandle
// (§4.1): finds the whole-disk device backing the currently mounted root
// filesystem, by resolving its mount source against sysfs partition
// metadata.
func DiscoverRootDevice() (DeviceHandle, error) {
	source, err := rootMountSource()
	if err != nil {
		return DeviceHandle{}, err
	}
	return DeviceHandle{Path: wholeDiskFor(source)}, nil
}

// rootMountSource parses /proc/self/mountinfo to find the device node
// backing the "/" mount point, following the same field layout the
// teacher's ReadCMDLineArg-adjacent mount helpers rely on.
func rootMountSource() (string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return "", ctrlerr.Wrap(ctrlerr.IoError, "opening /proc/self/mountinfo", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		sep := -1
		for i, f := range fields {
			if f == "-" {
				sep = i
				break
			}
		}
		if sep < 0 || sep+2 >= len(fields) {
			continue
		}
		mountPoint := fields[4]
		source := fields[sep+2]
		if mountPoint == "/" {
			return source, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", ctrlerr.Wrap(ctrlerr.IoError, "scanning /proc/self/mountinfo", err)
	}
	return "", ctrlerr.New(ctrlerr.IoError, "root mount not found in /proc/self/mountinfo")
}

// wholeDiskFor strips a trailing partition number (and, where present, the
// "p" separator) from a partition device path to recover the disk it
// belongs to.
func wholeDiskFor(partitionDevice string) string {
	i := len(partitionDevice)
	for i > 0 && partitionDevice[i-1] >= '0' && partitionDevice[i-1] <= '9' {
		i--
	}
	base := partitionDevice[:i]
	if strings.HasSuffix(base, "p") && len(base) > 1 && base[len(base)-2] >= '0' && base[len(base)-2] <= '9' {
		base = base[:len(base)-1]
	}
	return base
}

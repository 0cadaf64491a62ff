package utils

import (
	"os"
	"strings"
)

// ReadCMDLineArg returns the values of every "arg..." occurrence on the
// kernel command line, e.g. ReadCMDLineArg("rugix.boot-group=") for
// "rugix.boot-group=b" returns []string{"b"}.
func ReadCMDLineArg(arg string) []string {
	cmdLine, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return []string{}
	}
	res := []string{}
	fields := strings.Fields(string(cmdLine))
	for _, f := range fields {
		if strings.HasPrefix(f, arg) {
			dat := strings.SplitN(f, arg, 2)
			res = append(res, dat[1])
		}
	}
	return res
}

// ActiveGroupFromCmdline reads the active boot group override the boot flow
// may have placed on the kernel command line (§3 "Boot Group" invariant:
// determined by reading the kernel command line or mount source of "/").
func ActiveGroupFromCmdline() (string, bool) {
	vals := ReadCMDLineArg("rugix.boot-group=")
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// RootMountSource returns the device backing the mounted root filesystem, by
// scanning /proc/self/mountinfo for the "/" mount point. Used as the
// fallback for determining the active boot group when the cmdline override
// is absent.
func RootMountSource() (string, error) {
	data, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		// mountinfo fields: ... mount-point ... - fstype source ...
		mountPoint := fields[4]
		if mountPoint != "/" {
			continue
		}
		for i, f := range fields {
			if f == "-" && i+2 < len(fields) {
				return fields[i+2], nil
			}
		}
	}
	return "", os.ErrNotExist
}

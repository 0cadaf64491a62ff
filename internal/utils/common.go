package utils

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/xattr"
)

// RootDir returns where the assembled system root should be mounted before
// pivot_root: "/" when "rugix.nopivot" is on the kernel cmdline (used in test
// harnesses), the well-known new-root mount point otherwise.
func RootDir(newRootMount string) string {
	cmdline, _ := os.ReadFile("/proc/cmdline")
	if strings.Contains(string(cmdline), "rugix.nopivot") {
		return "/"
	}
	return newRootMount
}

// CreateIfNotExists ensures a directory exists, creating parents as needed.
func CreateIfNotExists(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// CleanupSlice trims whitespace and drops empty entries from a slice of
// strings, e.g. the result of strings.Split on a possibly-empty env value.
func CleanupSlice(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// UniqueSlice removes duplicate entries, preserving first-seen order.
func UniqueSlice(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// AppendSlash ensures a path ends in "/"; a path that already ends in one or
// more slashes is returned unchanged.
func AppendSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// SyncState recursively copies src into dst, preserving mode, ownership and
// modification time. A missing src is tolerated: dst is created empty. This
// implements the persist-path seeding invariant (§3 Persist Declaration): the
// declared path's factory contents are seeded from the pristine system
// filesystem on first boot and on factory reset.
func SyncState(src, dst string) error {
	src = strings.TrimSuffix(src, "/")
	dst = strings.TrimSuffix(dst, "/")

	info, err := os.Lstat(src)
	if os.IsNotExist(err) {
		return CreateIfNotExists(dst)
	}
	if err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		_ = os.Remove(dst)
		return os.Symlink(target, dst)
	}

	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := SyncState(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return chtimesAndMode(src, dst, info)
	}

	return copyFile(src, dst, info)
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return chtimesAndMode(src, dst, info)
}

func chtimesAndMode(src, dst string, info os.FileInfo) error {
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		_ = os.Chown(dst, int(stat.Uid), int(stat.Gid))
	}
	copyXattrs(src, dst)
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// copyXattrs is best-effort: most target filesystems for persist paths
// (ext4, tmpfs) support user xattrs, but a missing xattr or an unsupported
// filesystem must never fail the seeding operation.
func copyXattrs(src, dst string) {
	names, err := xattr.List(src)
	if err != nil {
		return
	}
	for _, name := range names {
		if value, err := xattr.Get(src, name); err == nil {
			_ = xattr.Set(dst, name, value)
		}
	}
}

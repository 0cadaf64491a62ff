package blockio

import (
	"sync"

	"github.com/containerd/containerd/mount"
	"golang.org/x/sys/unix"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// remountMu enforces §5's "at most one remount_writable scope at a time"
// invariant within this process; the on-disk lockfile (internal/utils/lock.go)
// enforces it across processes.
var remountMu sync.Mutex

// ScopedRemount is the token returned by RemountWritable (§4.1): while held,
// path is mounted read-write; Close remounts it read-only and fsyncs.
type ScopedRemount struct {
	path     string
	released bool
}

// RemountWritable implements remount_writable(path) -> ScopedRemount
// (§4.1). Grounded on the teacher's mountOperation.run(), which applies a
// mount.Mount via containerd/containerd/mount after an idempotency check —
// here used for a bind remount instead of an initial mount.
func RemountWritable(path string) (*ScopedRemount, error) {
	remountMu.Lock()
	m := mount.Mount{
		Type:    "none",
		Source:  path,
		Options: []string{"remount", "rw"},
	}
	if err := mount.All([]mount.Mount{m}, path); err != nil {
		remountMu.Unlock()
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "remounting "+path+" read-write", err)
	}
	return &ScopedRemount{path: path}, nil
}

// Close remounts path read-only, fsyncs it, and releases the process-local
// exclusivity lock. Safe to call more than once.
func (s *ScopedRemount) Close() error {
	if s.released {
		return nil
	}
	s.released = true
	defer remountMu.Unlock()

	m := mount.Mount{
		Type:    "none",
		Source:  s.path,
		Options: []string{"remount", "ro"},
	}
	if err := mount.All([]mount.Mount{m}, s.path); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "remounting "+s.path+" read-only", err)
	}
	unix.Sync()
	return nil
}

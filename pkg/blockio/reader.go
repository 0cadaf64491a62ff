package blockio

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// ScopedReader is a shared, read-only handle on a slot's backing device or
// file, used by `system info` and `--verify-bundle` style read paths that
// need to inspect the current contents of a slot.
type ScopedReader struct {
	f *os.File
}

// OpenSlotReader implements open_slot_reader(slot) -> ScopedReader (§4.1).
func OpenSlotReader(slot *slots.Slot, resolvedPath string) (*ScopedReader, error) {
	f, err := os.Open(resolvedPath)
	if err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "opening slot reader for "+resolvedPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ctrlerr.New(ctrlerr.DeviceBusy, resolvedPath+" is exclusively locked")
		}
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "locking "+resolvedPath, err)
	}
	return &ScopedReader{f: f}, nil
}

// ReadAt reads len(buf) bytes at offset, for hashing/verification passes.
func (r *ScopedReader) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := r.f.ReadAt(buf, offset)
	if err != nil {
		return n, ctrlerr.Wrap(ctrlerr.IoError, "reading slot", err)
	}
	return n, nil
}

// Close releases the shared lock and closes the descriptor.
func (r *ScopedReader) Close() error {
	unix.Flock(int(r.f.Fd()), unix.LOCK_UN)
	if err := r.f.Close(); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "closing slot reader", err)
	}
	return nil
}

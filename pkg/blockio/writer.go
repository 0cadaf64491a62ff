package blockio

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// blockAlignment is the 4 KiB write granularity ScopedWriter enforces; a
// bundle's block size must be a multiple of it for every block offset to
// pass the check.
const blockAlignment = 4096

// ScopedWriter is an exclusive, block-aligned handle on a slot's backing
// device or file, acquired for the duration of an installation write
// (§4.1). Closing it fsyncs and releases the exclusive lock; on error the
// caller must still Close to release the lock, but must not assume any
// bytes reached stable storage.
type ScopedWriter struct {
	f        *os.File
	unlocked bool
}

// OpenSlotWriter implements open_slot_writer(slot) -> ScopedWriter (§4.1).
// A block slot is opened by device path; a file slot is opened (creating
// parent directories as needed) inside its parent's mounted filesystem —
// resolving that mount point is the caller's (Installer's) responsibility,
// so filePath here is already the fully resolved on-disk path. size is the
// payload's decompressed length, used for a best-effort fallocate so the
// write lands in one contiguous extent; a zero size or a target that
// rejects fallocate outright (a block device node, for instance) is fine —
// the call is advisory and its error is ignored.
func OpenSlotWriter(slot *slots.Slot, resolvedPath string, size int64) (*ScopedWriter, error) {
	flags := os.O_WRONLY
	if slot.Kind == slots.KindFile {
		flags |= os.O_CREATE | os.O_TRUNC
		if err := os.MkdirAll(filepath.Dir(resolvedPath), 0o755); err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.IoError, "creating parent directories for "+resolvedPath, err)
		}
	}
	f, err := os.OpenFile(resolvedPath, flags, 0o644)
	if err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "opening slot writer for "+resolvedPath, err)
	}
	if size > 0 {
		_ = unix.Fallocate(int(f.Fd()), 0, 0, size)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ctrlerr.New(ctrlerr.DeviceBusy, resolvedPath+" is locked by another writer")
		}
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "locking "+resolvedPath, err)
	}
	return &ScopedWriter{f: f}, nil
}

// WriteBlockAt writes one bundle data block at a byte offset, failing with
// UnalignedWrite if the offset is not aligned to the block size — writes to
// a block slot must never straddle the underlying device's own block
// boundaries.
func (w *ScopedWriter) WriteBlockAt(offset int64, data []byte) error {
	if offset%blockAlignment != 0 {
		return ctrlerr.New(ctrlerr.UnalignedWrite, "write offset not block-aligned")
	}
	if _, err := w.f.WriteAt(data, offset); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "writing block", err)
	}
	return nil
}

// Truncate drops any bytes at or beyond size, used to discard partial
// writes on a file slot after a failed verification (§4.2).
func (w *ScopedWriter) Truncate(size int64) error {
	if err := w.f.Truncate(size); err != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "truncating partial write", err)
	}
	return nil
}

// Close fsyncs the file, releases the exclusive lock, and closes the
// descriptor. Safe to call more than once.
func (w *ScopedWriter) Close() error {
	if w.unlocked {
		return nil
	}
	w.unlocked = true
	syncErr := w.f.Sync()
	unix.Flock(int(w.f.Fd()), unix.LOCK_UN)
	closeErr := w.f.Close()
	if syncErr != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "fsyncing slot writer", syncErr)
	}
	if closeErr != nil {
		return ctrlerr.Wrap(ctrlerr.IoError, "closing slot writer", closeErr)
	}
	return nil
}

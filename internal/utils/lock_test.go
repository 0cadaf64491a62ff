package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireLockStampsUniqueOperationID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.lock")

	lock, err := AcquireLock(path)
	require.NoError(t, err)
	require.NotEmpty(t, lock.OperationID())
	require.NoError(t, lock.Release())
}

func TestAcquireLockRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.lock")

	first, err := AcquireLock(path)
	require.NoError(t, err)
	defer first.Release()

	_, err = AcquireLock(path)
	require.Error(t, err)
}

func TestPeekLockReportsHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.lock")

	lock, err := AcquireLock(path)
	require.NoError(t, err)
	defer lock.Release()

	pid, opID, held := PeekLock(path)
	require.True(t, held)
	require.Equal(t, lock.OperationID(), opID)
	require.Greater(t, pid, 0)
}

func TestPeekLockReportsNotHeldWhenFree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.lock")

	lock, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	_, _, held := PeekLock(path)
	require.False(t, held)
}

package blockio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

func TestOpenSlotWriterPreallocatesFileSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.img")
	slot := &slots.Slot{Name: "system-a", Kind: slots.KindFile}

	w, err := OpenSlotWriter(slot, path, 4096*4)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteBlockAt(0, make([]byte, blockAlignment)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, info.Size(), int64(blockAlignment))
}

func TestOpenSlotWriterToleratesZeroSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.img")
	slot := &slots.Slot{Name: "system-a", Kind: slots.KindFile}

	w, err := OpenSlotWriter(slot, path, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestOpenSlotWriterRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.img")
	slot := &slots.Slot{Name: "system-a", Kind: slots.KindFile}

	first, err := OpenSlotWriter(slot, path, 0)
	require.NoError(t, err)
	defer first.Close()

	_, err = OpenSlotWriter(slot, path, 0)
	require.Error(t, err)
}

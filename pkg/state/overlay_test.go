package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix/rugix-ctrl-go/pkg/config"
)

func TestResolveOverlayLocationDiscard(t *testing.T) {
	loc := resolveOverlayLocation(config.OverlayDiscard, "/run/rugix/mounts/data", "/run/rugix", "a")
	require.Equal(t, "tmpfs", loc.Backing)
	require.Equal(t, filepath.Join("/run/rugix", "overlay-tmpfs", "upper"), loc.Upper)
}

func TestResolveOverlayLocationPersist(t *testing.T) {
	loc := resolveOverlayLocation(config.OverlayPersist, "/run/rugix/mounts/data", "/run/rugix", "b")
	require.Equal(t, "data", loc.Backing)
	require.Equal(t, filepath.Join("/run/rugix/mounts/data", "overlay", "b", "upper"), loc.Upper)
	require.Equal(t, filepath.Join("/run/rugix/mounts/data", "overlay", "b", "work"), loc.Work)
}

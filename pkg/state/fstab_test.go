package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deniswernert/go-fstab"
	"github.com/stretchr/testify/require"

	"github.com/rugix/rugix-ctrl-go/pkg/config"
)

func TestOverlayToStab(t *testing.T) {
	loc := overlayLocation{Backing: "data", Upper: "/run/rugix/mounts/data/overlay/a/upper", Work: "/run/rugix/mounts/data/overlay/a/work"}
	m := overlayToStab(loc)
	require.Equal(t, "overlay", m.Spec)
	require.Equal(t, "/", m.File)
	require.Equal(t, "overlay", m.VfsType)
	require.Equal(t, loc.Upper, m.MntOps["upperdir"])
	require.Equal(t, loc.Work, m.MntOps["workdir"])
}

func TestPersistToStab(t *testing.T) {
	entry := config.PersistEntry{Directory: "/etc/kubernetes"}
	m := persistToStab(entry, "/run/rugix/mounts/data/state/default")
	require.Equal(t, filepath.Join("/run/rugix/mounts/data/state/default", "etc/kubernetes"), m.Spec)
	require.Equal(t, "/etc/kubernetes", m.File)
	require.Contains(t, m.MntOps, "bind")
}

func TestAppendFstabWritesOneLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fstab")

	loc := overlayLocation{Upper: "/upper", Work: "/work"}
	entry := config.PersistEntry{File: "/etc/machine-id"}

	err := appendFstab(path, []*fstab.Mount{overlayToStab(loc), persistToStab(entry, "/state")})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "overlay")
	require.Contains(t, lines[1], "etc/machine-id")
}

func TestAppendFstabTruncatesStalePriorContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fstab")
	require.NoError(t, os.WriteFile(path, []byte("stale-entry-from-last-boot\n"), 0o644))

	loc := overlayLocation{Upper: "/upper", Work: "/work"}
	require.NoError(t, appendFstab(path, []*fstab.Mount{overlayToStab(loc)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "stale-entry-from-last-boot")
}

package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix/rugix-ctrl-go/pkg/config"
)

func TestSeedPersistEntriesCopiesMissingCopy(t *testing.T) {
	systemMount := t.TempDir()
	stateDir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(systemMount, "etc", "kubernetes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(systemMount, "etc", "kubernetes", "config.yaml"), []byte("data"), 0o644))

	entries := []config.PersistEntry{{Directory: "/etc/kubernetes"}}
	require.NoError(t, seedPersistEntries(entries, systemMount, stateDir))

	got, err := os.ReadFile(filepath.Join(stateDir, "etc", "kubernetes", "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, "data", string(got))
}

func TestSeedPersistEntriesSkipsExistingCopy(t *testing.T) {
	systemMount := t.TempDir()
	stateDir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "etc", "hostname"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "etc", "hostname", "seeded"), []byte("keepme"), 0o644))

	entries := []config.PersistEntry{{Directory: "/etc/hostname"}}
	require.NoError(t, seedPersistEntries(entries, systemMount, stateDir))

	got, err := os.ReadFile(filepath.Join(stateDir, "etc", "hostname", "seeded"))
	require.NoError(t, err)
	require.Equal(t, "keepme", string(got))
}

func TestSeedPersistEntriesToleratesMissingSource(t *testing.T) {
	systemMount := t.TempDir()
	stateDir := t.TempDir()

	entries := []config.PersistEntry{{Directory: "/var/lib/nowhere"}}
	require.NoError(t, seedPersistEntries(entries, systemMount, stateDir))

	info, err := os.Stat(filepath.Join(stateDir, "var", "lib", "nowhere"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPersistPaths(t *testing.T) {
	source, dest := persistPaths(config.PersistEntry{File: "/etc/machine-id"}, "/run/rugix/mounts/system", "/run/rugix/mounts/data/state/default")
	require.Equal(t, filepath.Join("/run/rugix/mounts/system", "etc/machine-id"), source)
	require.Equal(t, filepath.Join("/run/rugix/mounts/data/state/default", "etc/machine-id"), dest)
}

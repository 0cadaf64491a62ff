package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResetSentinelRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.False(t, resetRequested(dir))

	require.NoError(t, requestReset(dir))
	require.True(t, resetRequested(dir))

	require.NoError(t, clearReset(dir))
	require.False(t, resetRequested(dir))
}

func TestClearResetToleratesMissingSentinel(t *testing.T) {
	require.NoError(t, clearReset(t.TempDir()))
}

func TestWipeAndRecreateDiscardsExistingContent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stray := filepath.Join(dir, "modified.conf")
	require.NoError(t, os.WriteFile(stray, []byte("edited by user"), 0o644))

	require.NoError(t, wipeAndRecreate(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestWipeAndRecreateToleratesMissingPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	require.NoError(t, wipeAndRecreate(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func TestRunAbortsOnFailure(t *testing.T) {
	hooksDir := t.TempDir()
	writeScript(t, filepath.Join(hooksDir, "install", "pre"), "10-fail.sh", "#!/bin/sh\nexit 1\n")

	err := Run(context.Background(), hooksDir, "install", "pre", Env{}, Abortive)
	require.Error(t, err)
}

func TestRunBestEffortContinuesAndAggregates(t *testing.T) {
	hooksDir := t.TempDir()
	marker := filepath.Join(t.TempDir(), "ran")
	writeScript(t, filepath.Join(hooksDir, "install", "post"), "10-fail.sh", "#!/bin/sh\nexit 1\n")
	writeScript(t, filepath.Join(hooksDir, "install", "post"), "20-ok.sh", "#!/bin/sh\ntouch "+marker+"\n")

	err := Run(context.Background(), hooksDir, "install", "post", Env{}, BestEffort)
	require.Error(t, err)
	_, statErr := os.Stat(marker)
	require.NoError(t, statErr, "later hooks must still run after an earlier best-effort failure")
}

func TestRunNoScriptsIsNoop(t *testing.T) {
	err := Run(context.Background(), t.TempDir(), "install", "pre", Env{}, Abortive)
	require.NoError(t, err)
}

func TestRunOrdersByRank(t *testing.T) {
	hooksDir := t.TempDir()
	out := filepath.Join(t.TempDir(), "order")
	writeScript(t, filepath.Join(hooksDir, "reset", "pre"), "20-second.sh", "#!/bin/sh\necho -n b >> "+out+"\n")
	writeScript(t, filepath.Join(hooksDir, "reset", "pre"), "10-first.sh", "#!/bin/sh\necho -n a >> "+out+"\n")

	require.NoError(t, Run(context.Background(), hooksDir, "reset", "pre", Env{}, Abortive))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "ab", string(data))
}

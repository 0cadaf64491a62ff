package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBootstrapEnvMissingFileIsEmpty(t *testing.T) {
	env, err := loadBootstrapEnv(filepath.Join(t.TempDir(), "bootstrap.env"))
	require.NoError(t, err)
	require.Empty(t, env)
}

func TestLoadBootstrapEnvReadsKeyValuePairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.env")
	require.NoError(t, os.WriteFile(path, []byte("RUGIX_BOOTSTRAP=1\nSOME_OTHER_FLAG=x\n"), 0o644))

	env, err := loadBootstrapEnv(path)
	require.NoError(t, err)
	require.Equal(t, "1", env["RUGIX_BOOTSTRAP"])
	require.Equal(t, "x", env["SOME_OTHER_FLAG"])
}

func TestBootstrapRequested(t *testing.T) {
	require.True(t, bootstrapRequested(map[string]string{"RUGIX_BOOTSTRAP": "1"}))
	require.True(t, bootstrapRequested(map[string]string{"RUGIX_BOOTSTRAP": "true"}))
	require.False(t, bootstrapRequested(map[string]string{"RUGIX_BOOTSTRAP": "0"}))
	require.False(t, bootstrapRequested(nil))
}

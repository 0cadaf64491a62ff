package bootflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix/rugix-ctrl-go/pkg/config"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

func testRegistry(t *testing.T) *slots.Registry {
	t.Helper()
	r, err := slots.NewFromConfig(config.SystemConfig{
		Slots: map[string]config.SlotConfig{
			"boot-a":   {Type: "block", Partition: 2},
			"boot-b":   {Type: "block", Partition: 3},
			"system-a": {Type: "block", Partition: 4},
			"system-b": {Type: "block", Partition: 5},
		},
		BootGroups: map[string]config.BootGroupCfg{
			"a": {Slots: map[string]string{"boot": "boot-a", "system": "system-a"}},
			"b": {Slots: map[string]string{"boot": "boot-b", "system": "system-b"}},
		},
	}, "a")
	require.NoError(t, err)
	return r
}

func TestTryBootSetTryNextAndGetDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, autobootFileName), []byte("[all]\ntryboot_a_b=1\nboot_partition=2\n[tryboot]\nboot_partition=3\n"), 0o644))

	tb := NewTryBoot(dir, testRegistry(t))

	def, err := tb.GetDefault()
	require.NoError(t, err)
	require.Equal(t, "a", def)

	require.NoError(t, tb.SetTryNext("b"))

	data, err := os.ReadFile(filepath.Join(dir, autobootFileName))
	require.NoError(t, err)
	partition, err := parseAutobootSection(string(data), "[tryboot]")
	require.NoError(t, err)
	require.EqualValues(t, 3, partition)

	// default is unchanged by set_try_next
	def, err = tb.GetDefault()
	require.NoError(t, err)
	require.Equal(t, "a", def)
}

func TestTryBootMarkGoodResetsAttempts(t *testing.T) {
	dir := t.TempDir()
	tb := NewTryBoot(dir, testRegistry(t))

	require.NoError(t, os.WriteFile(filepath.Join(dir, attemptsFileName), []byte("0"), 0o644))
	attempts, ok, err := tb.RemainingAttempts("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, attempts)

	require.NoError(t, tb.MarkGood("a"))
	attempts, _, err = tb.RemainingAttempts("a")
	require.NoError(t, err)
	require.Greater(t, attempts, 0)
}

func TestUBootEnvRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	env := UBootEnv{"boot_spare": "1", "spare_partition": "3"}
	require.NoError(t, env.Save(path))

	loaded, err := LoadUBootEnv(path)
	require.NoError(t, err)
	require.Equal(t, "1", loaded["boot_spare"])
	require.Equal(t, "3", loaded["spare_partition"])
}

func TestUBootGetDefault(t *testing.T) {
	dir := t.TempDir()
	ub := NewUBoot(dir, testRegistry(t))
	require.NoError(t, UBootEnv{"bootpart_default": "2"}.Save(ub.defaultEnvPath()))

	def, err := ub.GetDefault()
	require.NoError(t, err)
	require.Equal(t, "a", def)
}

func TestGrubEnvRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, grubEnvFileName)
	env := grubEnv{"default_partition": "2", "boot_spare": "0"}
	require.NoError(t, env.save(path))

	loaded, err := loadGrubEnv(path)
	require.NoError(t, err)
	require.Equal(t, "2", loaded["default_partition"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, grubEnvBlockSize, info.Size())
}

func TestDetectPrefersTryboot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, autobootFileName), []byte("[all]\nboot_partition=2\n"), 0o644))

	flow, err := Detect(dir, testRegistry(t))
	require.NoError(t, err)
	require.Equal(t, "tryboot", flow.Kind())
}

func TestDetectFailsWithNoTelltale(t *testing.T) {
	_, err := Detect(t.TempDir(), testRegistry(t))
	require.Error(t, err)
}

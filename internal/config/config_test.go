package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merge-branch-storage/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o600))
	return dir
}

func clearKBCEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"KBC_CONFIGID", "KBC_CONFIGROWID", "KBC_RUNID", "KBC_COMPONENTID"} {
		t.Setenv(k, "")
	}
}

func TestLoad_RunMode(t *testing.T) {
	clearKBCEnv(t)
	t.Setenv("KBC_CONFIGID", "123")
	t.Setenv("KBC_CONFIGROWID", "456")
	t.Setenv("KBC_RUNID", "run-1")
	dir := writeConfig(t, `{"parameters":{"action":"DROP_TABLE","values":["in.c-a.t"]},"storage":{}}`)

	cfg, err := Load(dir, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, ModeRun, cfg.Mode)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "123", cfg.ConfigID)
	assert.Equal(t, "456", cfg.ConfigRowID)
	assert.Equal(t, "run-1", cfg.RunID)
	assert.Equal(t, DefaultComponentID, cfg.ComponentID)
	assert.Equal(t, "DROP_TABLE", cfg.Parameters.Action)
	assert.Equal(t, []string{"in.c-a.t"}, cfg.Parameters.Values)
	assert.True(t, cfg.CanDisableRow())
}

func TestLoad_GeneratesRunID(t *testing.T) {
	clearKBCEnv(t)
	dir := writeConfig(t, `{"parameters":{"action":"ADD_BUCKET","rawResourceJson":[]}}`)

	cfg, err := Load(dir, Overrides{})
	require.NoError(t, err)
	assert.Len(t, cfg.RunID, 36)
	assert.False(t, cfg.CanDisableRow())
	assert.JSONEq(t, `[]`, string(cfg.Parameters.RawResourceJSON))
}

func TestLoad_SynchronizeNeedsConfigID(t *testing.T) {
	clearKBCEnv(t)
	dir := writeConfig(t, `{"action":"synchronize_resources","parameters":{}}`)

	_, err := Load(dir, Overrides{})
	require.Error(t, err)
	assert.True(t, domain.IsUserError(err))
	assert.Contains(t, err.Error(), "configId")

	t.Setenv("KBC_CONFIGID", "from-env")
	cfg, err := Load(dir, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, ModeSynchronize, cfg.Mode)
	assert.Equal(t, "from-env", cfg.ConfigID)
}

func TestLoad_FileConfigIDWinsOverEnv(t *testing.T) {
	clearKBCEnv(t)
	t.Setenv("KBC_CONFIGID", "from-env")
	dir := writeConfig(t, `{"action":"synchronize_resources","configId":"from-file"}`)

	cfg, err := Load(dir, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ConfigID)

	cfg, err = Load(dir, Overrides{ConfigID: "from-flag"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.ConfigID)
}

func TestLoad_ModeOverride(t *testing.T) {
	clearKBCEnv(t)
	dir := writeConfig(t, `{"action":"run","configId":"1"}`)

	cfg, err := Load(dir, Overrides{Mode: ModeSynchronize})
	require.NoError(t, err)
	assert.Equal(t, ModeSynchronize, cfg.Mode)
}

func TestLoad_UnknownMode(t *testing.T) {
	clearKBCEnv(t)
	dir := writeConfig(t, `{"action":"merge"}`)

	_, err := Load(dir, Overrides{})
	require.Error(t, err)
	assert.True(t, domain.IsUserError(err))
	assert.Contains(t, err.Error(), `action must be one of [run synchronize_resources], got "merge"`)
}

func TestLoad_RunModeNeedsParametersAction(t *testing.T) {
	clearKBCEnv(t)
	dir := writeConfig(t, `{"parameters":{"values":[]}}`)

	_, err := Load(dir, Overrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameters.action is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir(), Overrides{})
	require.Error(t, err)
	assert.True(t, domain.IsUserError(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_InvalidJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{"parameters":`), Overrides{})
	require.Error(t, err)
	assert.True(t, domain.IsUserError(err))
}

func TestLoad_ComponentIDFromEnv(t *testing.T) {
	clearKBCEnv(t)
	t.Setenv("KBC_COMPONENTID", "custom.component")
	dir := writeConfig(t, `{"parameters":{"action":"DROP_BUCKET","values":[]}}`)

	cfg, err := Load(dir, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "custom.component", cfg.ComponentID)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	assert.NoError(t, LoadDotEnv("/nonexistent/.env"))
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("# comment\nexport MBS_TEST_KEY=\"test_value\"\n\nMBS_OTHER='x'\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("MBS_TEST_KEY")
		_ = os.Unsetenv("MBS_OTHER")
	})

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "test_value", os.Getenv("MBS_TEST_KEY"))
	assert.Equal(t, "x", os.Getenv("MBS_OTHER"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("MBS_PRECEDENCE_KEY", "from_env")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MBS_PRECEDENCE_KEY=from_file\n"), 0o600))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from_env", os.Getenv("MBS_PRECEDENCE_KEY"))
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shift-engine/config"
)

// noEnv points Load at a .env file that does not exist.
func noEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(nil, noEnv(t))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_EnvThenFlags(t *testing.T) {
	// GIVEN: port and store set in the environment
	// WHEN: a flag also sets the port
	// THEN: the flag wins and the untouched env value stays
	t.Setenv("SHIFT_ENGINE_PORT", "9090")
	t.Setenv("SHIFT_ENGINE_STORE", "memory")
	t.Setenv("SHIFT_ENGINE_SWEEP_INTERVAL", "90s")
	t.Setenv("SHIFT_ENGINE_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load([]string{"--port", "7070", "--redis", "localhost:6379"}, noEnv(t))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, 90*time.Second, cfg.SweepInterval)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SHIFT_ENGINE_LOG_LEVEL=debug\nSHIFT_ENGINE_DB_PATH=/tmp/shifts-test.db\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SHIFT_ENGINE_LOG_LEVEL")
		os.Unsetenv("SHIFT_ENGINE_DB_PATH")
	})

	cfg, err := config.Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/shifts-test.db", cfg.DBPath)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("SHIFT_ENGINE_PORT", "eighty")
	t.Setenv("SHIFT_ENGINE_DEBOUNCE", "soon")

	_, err := config.Load(nil, noEnv(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHIFT_ENGINE_PORT")
	assert.Contains(t, err.Error(), "SHIFT_ENGINE_DEBOUNCE")
}

func TestValidate_JoinsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 0
	cfg.Store = "postgres"
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 0 out of range")
	assert.Contains(t, err.Error(), `unknown store "postgres"`)
	assert.Contains(t, err.Error(), `unknown log format "xml"`)

	_, err = config.Load([]string{"--no-such-flag"}, noEnv(t))
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir is t.Chdir for Go toolchains older than 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	chdir(t, t.TempDir())
	require.NoError(t, os.MkdirAll("config", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("config", "config.dev.yaml"),
		[]byte("port: 9000\nping_period: 10s\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.PingPeriod)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Setenv("CONFIG_ENV", "dev")
	chdir(t, t.TempDir())
	require.NoError(t, os.MkdirAll("config", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("config", "config.dev.yaml"),
		[]byte("port: {nope\n"), 0o644))

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
}

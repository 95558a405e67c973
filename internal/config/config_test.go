package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/kdf"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ballooncrypt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, kdf.Latest, cfg.ParamVersion)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	assert.False(t, cfg.JSONLogs())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
param_version: 4
workers: 8
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, kdf.V4, cfg.ParamVersion)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.True(t, cfg.JSONLogs())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "workers: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, kdf.Latest, cfg.ParamVersion)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("BALLOONCRYPT_WORKERS", "16")
	t.Setenv("BALLOONCRYPT_LOG_LEVEL", "info")
	t.Setenv("BALLOONCRYPT_PARAM_VERSION", "4")
	t.Setenv("BALLOONCRYPT_LOG_FORMAT", "json")

	cfg, err := Load(writeConfig(t, "workers: 2\nlog:\n  level: error\n"))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, kdf.V4, cfg.ParamVersion)
	assert.True(t, cfg.JSONLogs())
}

func TestUnprefixedEnvironmentIgnored(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("FORMAT", "json")
	t.Setenv("WORKERS", "9")
	t.Setenv("PARAM_VERSION", "4")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "workers: [not a number\n"))
	assert.Error(t, err)

	t.Setenv("BALLOONCRYPT_WORKERS", "many")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown param version": func(c *Config) { c.ParamVersion = 3 },
		"zero workers":          func(c *Config) { c.Workers = 0 },
		"too many workers":      func(c *Config) { c.Workers = maxWorkers + 1 },
		"bad level":             func(c *Config) { c.Log.Level = "loud" },
		"bad format":            func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

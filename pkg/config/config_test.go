package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "filesystem", cfg.Storage.Type)
	assert.Equal(t, 500, cfg.Authorization.CacheSize)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
  readTimeout: 5s
storage:
  type: sqlite
  dsn: /tmp/flowdeck.db
authorization:
  cacheSize: 64
observability:
  logLevel: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset file values keep defaults")
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 64, cfg.Authorization.CacheSize)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o644))

	t.Setenv("FLOWDECK_PORT", "7070")
	t.Setenv("FLOWDECK_STORAGE_TYPE", "memory")
	t.Setenv("FLOWDECK_RULE_CACHE_SIZE", "32")
	t.Setenv("FLOWDECK_METRICS_ENABLED", "false")
	t.Setenv("FLOWDECK_SHUTDOWN_TIMEOUT", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 32, cfg.Authorization.CacheSize)
	assert.False(t, cfg.Observability.MetricsEnabled)
	assert.Equal(t, 45*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "empty port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "port",
		},
		{
			name:    "non-positive cache size",
			mutate:  func(c *Config) { c.Authorization.CacheSize = 0 },
			wantErr: "cache size",
		},
		{
			name:    "unknown storage type",
			mutate:  func(c *Config) { c.Storage.Type = "etcd" },
			wantErr: "storage type",
		},
		{
			name:    "filesystem without root",
			mutate:  func(c *Config) { c.Storage.FilesystemRoot = "" },
			wantErr: "filesystem root",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Storage.Type = "postgres"
				c.Storage.DSN = ""
			},
			wantErr: "DSN",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "loud" },
			wantErr: "log level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

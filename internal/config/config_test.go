package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shopsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvEnvironment, EnvLogLevel, EnvDatabase, EnvRemoteURL, EnvProbeURL, EnvRedisURL} {
		t.Setenv(k, "")
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database: /var/lib/shopsync/data.db
remote:
  base_url: https://api.example.com/v1
  timeout: 3s
  headers:
    Authorization: Bearer test
cache:
  ttls:
    product: 2m
    customer: 1h
monitor:
  probe_interval: 15s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/shopsync/data.db", cfg.Database)
	assert.Equal(t, "https://api.example.com/v1", cfg.Remote.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "Bearer test", cfg.Remote.Headers["Authorization"])
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTLs["product"])
	assert.Equal(t, time.Hour, cfg.Cache.TTLs["customer"])
	assert.Equal(t, 15*time.Second, cfg.Monitor.ProbeInterval)

	// Untouched sections keep their defaults.
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, "gochannel", cfg.Realtime.Provider)
	assert.True(t, cfg.Monitor.StartOnline)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "databse: typo.db\n"))
	assert.ErrorContains(t, err, "databse")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDatabase, "/tmp/env.db")
	t.Setenv(EnvRemoteURL, "http://remote.test")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(EnvEnvironment, "production")

	cfg, err := Load(writeConfig(t, "database: file.db\n"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.Database)
	assert.Equal(t, "http://remote.test", cfg.Remote.BaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Realtime.RedisURL)
	assert.True(t, cfg.Production())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown env", func(c *Config) { c.Env = "staging" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }},
		{"empty database", func(c *Config) { c.Database = "" }},
		{"zero timeout", func(c *Config) { c.Remote.Timeout = 0 }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis backend without url", func(c *Config) { c.Cache.Backend = "redis" }},
		{"redis feed without url", func(c *Config) { c.Realtime.Provider = "redis" }},
		{"unknown ttl namespace", func(c *Config) { c.Cache.TTLs = map[string]time.Duration{"widget": time.Minute} }},
		{"negative ttl", func(c *Config) { c.Cache.TTLs = map[string]time.Duration{"order": -time.Second} }},
		{"zero probe interval", func(c *Config) { c.Monitor.ProbeInterval = 0 }},
		{"negative buffer", func(c *Config) { c.Realtime.BufferSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), "invalid config")
		})
	}
}

func TestValidate_RedisWithURL(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisURL = "redis://localhost:6379/0"
	cfg.Realtime.Provider = "redis"
	cfg.Realtime.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())
}

// Package config loads the shopsync configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// environment overrides. The result is validated against the embedded CUE
// schema before use.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE []byte

// Environment variables that override file values.
const (
	EnvEnvironment = "SHOPSYNC_ENV"
	EnvLogLevel    = "SHOPSYNC_LOG_LEVEL"
	EnvDatabase    = "SHOPSYNC_DB"
	EnvRemoteURL   = "SHOPSYNC_REMOTE_URL"
	EnvProbeURL    = "SHOPSYNC_PROBE_URL"
	EnvRedisURL    = "REDIS_URL"
)

// Config is the full runtime configuration.
type Config struct {
	Env      string `yaml:"env" json:"env"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Database is the SQLite file holding the cache, sync queue, perf log
	// and meta tables.
	Database string `yaml:"database" json:"database"`

	Remote   RemoteConfig   `yaml:"remote" json:"remote"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Realtime RealtimeConfig `yaml:"realtime" json:"realtime"`
	Monitor  MonitorConfig  `yaml:"monitor" json:"monitor"`

	// JanitorInterval is how often expired cache entries are evicted.
	JanitorInterval time.Duration `yaml:"janitor_interval" json:"janitor_interval"`
}

// RemoteConfig locates the server of record.
type RemoteConfig struct {
	BaseURL  string            `yaml:"base_url" json:"base_url"`
	ProbeURL string            `yaml:"probe_url" json:"probe_url"`
	Timeout  time.Duration     `yaml:"timeout" json:"timeout"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// CacheConfig selects the cache backend and per-namespace TTLs.
type CacheConfig struct {
	Backend  string                   `yaml:"backend" json:"backend"`
	RedisURL string                   `yaml:"redis_url" json:"redis_url"`
	TTLs     map[string]time.Duration `yaml:"ttls,omitempty" json:"ttls,omitempty"`
}

// RealtimeConfig selects the change-feed transport.
type RealtimeConfig struct {
	Provider      string `yaml:"provider" json:"provider"`
	TopicPrefix   string `yaml:"topic_prefix" json:"topic_prefix"`
	BufferSize    int64  `yaml:"buffer_size" json:"buffer_size"`
	RedisURL      string `yaml:"redis_url" json:"redis_url"`
	ConsumerGroup string `yaml:"consumer_group" json:"consumer_group"`
}

// MonitorConfig tunes the network monitor.
type MonitorConfig struct {
	ProbeInterval  time.Duration `yaml:"probe_interval" json:"probe_interval"`
	RecoverOnProbe bool          `yaml:"recover_on_probe" json:"recover_on_probe"`
	StartOnline    bool          `yaml:"start_online" json:"start_online"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env:      "development",
		LogLevel: "info",
		Database: "shopsync.db",
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "sqlite",
		},
		Realtime: RealtimeConfig{
			Provider:      "gochannel",
			TopicPrefix:   "shopsync.changes",
			BufferSize:    64,
			ConsumerGroup: "shopsync",
		},
		Monitor: MonitorConfig{
			ProbeInterval:  30 * time.Second,
			RecoverOnProbe: true,
			StartOnline:    true,
		},
		JanitorInterval: time.Minute,
	}
}

// Load reads the YAML file at path over the defaults, applies
// environment overrides and validates the result. An empty path skips
// the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvEnvironment); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv(EnvProbeURL); v != "" {
		cfg.Remote.ProbeURL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.Cache.RedisURL = v
		cfg.Realtime.RedisURL = v
	}
}

// Validate checks cfg against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// Production reports whether the production environment is selected.
func (c Config) Production() bool {
	return c.Env == "production"
}

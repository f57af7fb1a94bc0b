// Package config loads the throttler YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manenim/throttler/pkg/limiter"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)

type Config struct {
	Log     LogConfig               `yaml:"log"`
	Server  ServerConfig            `yaml:"server"`
	Store   StoreConfig             `yaml:"store"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Handles map[string]HandleConfig `yaml:"handles"`
}

type LogConfig struct {
	// Level is a zerolog level name ("debug", "info", ...).
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// FailOpen admits requests when the store is unavailable.
	FailOpen bool `yaml:"fail_open"`
	// KeyHeader names a request header used as the throttle key.
	KeyHeader string `yaml:"key_header"`
	// TrustForwardedFor keys requests by X-Forwarded-For. Only enable it
	// behind a proxy that sets the header.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
	SQL     SQLConfig   `yaml:"sql"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
	TTL      time.Duration `yaml:"ttl"`
}

type SQLConfig struct {
	// Dialect is "postgres", "mysql" or "sqlite".
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
	// CleanupInterval controls how often stale rows are removed.
	// Zero disables cleanup.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// Retention is how long a row survives without being written.
	Retention time.Duration `yaml:"retention"`
}

type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

type HandleConfig struct {
	Threshold int64         `yaml:"threshold"`
	Interval  time.Duration `yaml:"interval"`
	BurstRate int64         `yaml:"burst_rate"`
	Strategy  string        `yaml:"strategy"`
}

// Load reads a YAML file, expanding environment variables first.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a configuration. Unknown fields are
// rejected.
func Parse(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expandEnvVars(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "localhost:6379"
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "throttle:"
	}
	if c.Store.Redis.Timeout == 0 {
		c.Store.Redis.Timeout = 5 * time.Second
	}
	if c.Store.SQL.Retention == 0 {
		c.Store.SQL.Retention = 24 * time.Hour
	}
	if c.Metrics.Enabled == nil {
		enabled := true
		c.Metrics.Enabled = &enabled
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "throttle"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format '%s', must be 'console' or 'json'", c.Log.Format)
	}

	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendSQL:
		if !slices.Contains([]string{limiter.DialectPostgres, limiter.DialectMySQL, limiter.DialectSQLite}, c.Store.SQL.Dialect) {
			return fmt.Errorf("invalid store.sql.dialect '%s', must be 'postgres', 'mysql' or 'sqlite'", c.Store.SQL.Dialect)
		}
		if c.Store.SQL.DSN == "" {
			return errors.New("store.backend 'sql' requires store.sql.dsn")
		}
	default:
		return fmt.Errorf("invalid store.backend '%s', must be 'memory', 'redis' or 'sql'", c.Store.Backend)
	}
	if c.Store.Redis.TTL < 0 {
		return errors.New("store.redis.ttl must not be negative")
	}

	if len(c.Handles) == 0 {
		return errors.New("handles is required")
	}
	if _, err := c.LimiterHandles(); err != nil {
		return err
	}
	return nil
}

// LimiterHandles converts the handles section for limiter.ConfigureAll.
func (c *Config) LimiterHandles() (map[string]limiter.HandleConfig, error) {
	out := make(map[string]limiter.HandleConfig, len(c.Handles))
	for _, name := range slices.Sorted(maps.Keys(c.Handles)) {
		h := c.Handles[name]
		strategy, err := limiter.ParseStrategy(h.Strategy)
		if err != nil {
			return nil, fmt.Errorf("handles.%s.strategy: %w", name, err)
		}
		hc := limiter.HandleConfig{
			Threshold: h.Threshold,
			Interval:  h.Interval,
			BurstRate: h.BurstRate,
			Strategy:  strategy,
		}
		if err := hc.Validate(); err != nil {
			return nil, fmt.Errorf("handles.%s: %w", name, err)
		}
		out[name] = hc
	}
	return out, nil
}

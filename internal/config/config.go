// Package config loads the proxy configuration from a YAML file with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/policy"
	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration.
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Upstream struct {
		URL       string        `yaml:"url"`
		UserAgent string        `yaml:"user_agent"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"upstream"`

	// Redis is the persistent tier; an empty URL keeps it in process.
	Redis struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
	} `yaml:"redis"`

	Cache struct {
		MemoryCapacity int    `yaml:"memory_capacity"`
		Prefix         string `yaml:"prefix"`
		QuotaBytes     int64  `yaml:"quota_bytes"`
	} `yaml:"cache"`

	Retry struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
		Jitter         float64       `yaml:"jitter"`
	} `yaml:"retry"`

	Refresh struct {
		Threshold   float64       `yaml:"threshold"`
		GracePeriod time.Duration `yaml:"grace_period"`
		BatchSize   int           `yaml:"batch_size"`
		Interval    time.Duration `yaml:"interval"`
	} `yaml:"refresh"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	// Categories overrides the built-in policy table when non-empty.
	Categories map[policy.Category]policy.Policy `yaml:"categories"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Upstream.UserAgent = "respcache-proxy/0.1.0"
	c.Upstream.Timeout = 30 * time.Second

	c.Redis.Namespace = "respcache-proxy/"

	c.Cache.MemoryCapacity = 100
	c.Cache.Prefix = "respcache:"
	c.Cache.QuotaBytes = 5 << 20

	c.Retry.MaxAttempts = 3
	c.Retry.InitialBackoff = time.Second
	c.Retry.MaxBackoff = 30 * time.Second

	c.Refresh.Threshold = 0.8
	c.Refresh.GracePeriod = 5 * time.Second
	c.Refresh.BatchSize = 3
	c.Refresh.Interval = 30 * time.Second

	c.Log.Level = string(logging.LevelInfo)
	return c
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides file values with REDIS_URL, UPSTREAM_URL, PORT and
// LOG_LEVEL.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.Redis.URL = v
	}
	if v, ok := lookup("UPSTREAM_URL"); ok && v != "" {
		c.Upstream.URL = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		c.Server.Addr = ":" + v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the configuration, including the policy table.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Cache.MemoryCapacity <= 0 {
		return fmt.Errorf("cache.memory_capacity must be > 0 (got %d)", c.Cache.MemoryCapacity)
	}
	if c.Cache.QuotaBytes <= 0 {
		return fmt.Errorf("cache.quota_bytes must be > 0 (got %d)", c.Cache.QuotaBytes)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0 (got %d)", c.Retry.MaxAttempts)
	}
	if c.Refresh.Threshold <= 0 || c.Refresh.Threshold > 1 {
		return fmt.Errorf("refresh.threshold must be within (0, 1] (got %v)", c.Refresh.Threshold)
	}
	if c.Refresh.BatchSize <= 0 {
		return fmt.Errorf("refresh.batch_size must be > 0 (got %d)", c.Refresh.BatchSize)
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// Registry builds the policy registry: the configured categories, or the
// built-in table when none are configured.
func (c *Config) Registry() (*policy.Registry, error) {
	if len(c.Categories) == 0 {
		return policy.DefaultRegistry(), nil
	}
	return policy.NewRegistry(c.Categories)
}

// LogConfig converts the log section for logging.Setup.
func (c *Config) LogConfig(out io.Writer) logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{Level: level, Pretty: c.Log.Pretty, Output: out}
}

// Package config loads laurels runtime settings.
//
// Precedence, lowest first: built-in defaults, the YAML config file,
// variables from a .env file, the process environment, then command flags
// (applied by the CLI).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/roach88/laurels/internal/engine"
)

// Environment variables that override the config file.
const (
	EnvDatabase    = "LAURELS_DB"
	EnvCatalog     = "LAURELS_CATALOG"
	EnvUsers       = "LAURELS_USERS"
	EnvWorkers     = "LAURELS_WORKERS"
	EnvMaxAttempts = "LAURELS_MAX_ATTEMPTS"
	EnvPoolReport  = "LAURELS_POOL_REPORT"
)

// Config holds runtime settings.
type Config struct {
	Database string `yaml:"database"`
	// Catalog is a CUE catalog path. Empty selects the embedded default.
	Catalog string `yaml:"catalog"`
	Users   string `yaml:"users"`
	Workers int    `yaml:"workers"`
	Retry   Retry  `yaml:"retry"`
	// PoolReport is a standard 5-field cron expression. Empty disables the
	// periodic pool report.
	PoolReport string `yaml:"pool_report"`
}

// Retry mirrors engine.RetryPolicy with YAML-friendly durations.
type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database: "laurels.db",
		Workers:  4,
		Retry: Retry{
			MaxAttempts:     engine.DefaultRetryPolicy.MaxAttempts,
			InitialInterval: engine.DefaultRetryPolicy.InitialInterval,
			MaxInterval:     engine.DefaultRetryPolicy.MaxInterval,
		},
		PoolReport: "@every 1m",
	}
}

// Load builds a Config from defaults, the optional YAML file at path, the
// optional env file, and the environment. Missing path or envFile are
// skipped when empty; a named file that does not exist is an error.
func Load(path, envFile string) (Config, error) {
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

	if envFile != "" {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
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

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		c.Database = v
	}
	if v, ok := lookup(EnvCatalog); ok {
		c.Catalog = v
	}
	if v, ok := lookup(EnvUsers); ok && v != "" {
		c.Users = v
	}
	if v, ok := lookup(EnvPoolReport); ok {
		c.PoolReport = v
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvMaxAttempts); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxAttempts, err)
		}
		c.Retry.MaxAttempts = n
	}
	return nil
}

// Validate checks ranges and the pool report schedule.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database: path is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers: must be at least 1, got %d", c.Workers))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts: must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		errs = append(errs, errors.New("retry: intervals must not be negative"))
	}
	if c.Retry.MaxInterval > 0 && c.Retry.InitialInterval > c.Retry.MaxInterval {
		errs = append(errs, errors.New("retry: initial_interval exceeds max_interval"))
	}
	if c.PoolReport != "" {
		if _, err := cron.ParseStandard(c.PoolReport); err != nil {
			errs = append(errs, fmt.Errorf("pool_report: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RetryPolicy converts the retry settings for the engine.
func (c Config) RetryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

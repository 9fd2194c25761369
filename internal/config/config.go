package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/fit"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// Environment variables that override the file.
const (
	EnvConfigPath = "WATERBIRD_CONFIG"
	EnvDB         = "WATERBIRD_DB"
	EnvEngineAddr = "WATERBIRD_ENGINE_ADDR"
	EnvSeed       = "WATERBIRD_SEED"
	EnvLogLevel   = "WATERBIRD_LOG_LEVEL"
)

// #region types
// Config holds everything the estimator and engine binaries read at start.
type Config struct {
	// Inputs
	Counts     string         `yaml:"counts"`
	Covariates string         `yaml:"covariates"`
	Taxon      string         `yaml:"taxon"`
	Sites      []string       `yaml:"sites"`
	Seasons    series.Seasons `yaml:"seasons"`
	ZeroOffset float64        `yaml:"zero_offset"`

	// Covariate cache: "store" caches in the fit database, a path caches in
	// a CSV file, empty disables caching.
	CovariateCache string `yaml:"covariate_cache"`

	// Outputs and runtime
	DBPath      string `yaml:"db_path"`
	EngineAddr  string `yaml:"engine_addr"` // empty runs the in-process sampler
	ListenAddr  string `yaml:"listen_addr"`
	LogLevel    string `yaml:"log_level"`
	Parallel    int    `yaml:"parallel"`
	TimeoutSecs int    `yaml:"timeout_secs"`

	Fit fit.Config `yaml:"fit"`
}

// #endregion types

// #region defaults
// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Seasons:    series.DefaultSeasons(),
		ListenAddr: "127.0.0.1:50061",
		LogLevel:   "info",
		Parallel:   1,
		Fit:        fit.DefaultConfig(),
	}
}

// #endregion defaults

// #region load
// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	if err := applyEnvironmentOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Path returns the config file named by WATERBIRD_CONFIG, if any.
func Path() string {
	return os.Getenv(EnvConfigPath)
}

func applyEnvironmentOverrides(cfg *Config) error {
	if v := os.Getenv(EnvDB); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvEngineAddr); v != "" {
		cfg.EngineAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvSeed); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}
		cfg.Fit.Seed = seed
	}
	return nil
}

// #endregion load

// #region validate
// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	if err := c.Seasons.Validate(); err != nil {
		return err
	}
	if c.ZeroOffset < 0 {
		return fmt.Errorf("zero_offset must not be negative, got %g", c.ZeroOffset)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be positive, got %d", c.Parallel)
	}
	if c.TimeoutSecs < 0 {
		return fmt.Errorf("timeout_secs must not be negative, got %d", c.TimeoutSecs)
	}
	if c.CovariateCache == "store" && c.DBPath == "" {
		return errors.New("covariate_cache \"store\" needs db_path")
	}
	return c.Fit.Validate()
}

// PrepareOptions returns the data preparation options.
func (c Config) PrepareOptions() series.Options {
	return series.Options{Seasons: c.Seasons, ZeroOffset: c.ZeroOffset}
}

// #endregion validate

// Package config loads the service configuration from the environment and
// an optional YAML file of solver parameters.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/laplace/internal/logging"
	"github.com/copyleftdev/laplace/internal/optimization/laplace"
)

// Prefix is prepended to every environment variable the service reads.
const Prefix = "LAPLACE_"

type Config struct {
	Environment string          `env:"ENV" envDefault:"development" yaml:"environment"`
	HTTP        HTTP            `envPrefix:"HTTP_" yaml:"http"`
	Logging     logging.Config  `envPrefix:"LOG_" yaml:"logging"`
	Inference   InferenceConfig `envPrefix:"INFERENCE_" yaml:"inference"`
}

type HTTP struct {
	Port            int           `env:"PORT" envDefault:"8080" yaml:"port"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`
	// MaxBodyBytes bounds request bodies; problems carry dense matrices.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"33554432" yaml:"max_body_bytes"`
}

// InferenceConfig configures the inference sessions served over HTTP.
type InferenceConfig struct {
	// Solver is the default solver configuration of new sessions.
	Solver laplace.Config `envPrefix:"SOLVER_" yaml:"solver"`
	// SessionCacheSize is the number of sessions kept before the least
	// recently used one is evicted.
	SessionCacheSize int `env:"SESSION_CACHE_SIZE" envDefault:"256" yaml:"session_cache_size"`
	// MaxObservations rejects problems larger than this.
	MaxObservations int `env:"MAX_OBSERVATIONS" envDefault:"5000" yaml:"max_observations"`
	// ParamsFile is a YAML file whose contents override Solver.
	ParamsFile string `env:"PARAMS_FILE" yaml:"params_file"`
}

// Load reads the configuration from LAPLACE_* environment variables. Solver
// defaults come from laplace.DefaultConfig and are overridden by the
// environment, then by the params file.
func Load() (*Config, error) {
	return LoadWith(env.Options{Prefix: Prefix})
}

// LoadWith is Load with explicit env options, so callers can supply their
// own environment.
func LoadWith(opts env.Options) (*Config, error) {
	cfg := &Config{
		Logging: *logging.DefaultConfig(),
		Inference: InferenceConfig{
			Solver: laplace.DefaultConfig(),
		},
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Inference.ParamsFile != "" {
		if err := loadSolverFile(cfg.Inference.ParamsFile, &cfg.Inference.Solver); err != nil {
			return nil, err
		}
	}

	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSolverFile decodes path over solver, so keys missing from the file
// keep their current values.
func loadSolverFile(path string, solver *laplace.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open params file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(solver); err != nil {
		return fmt.Errorf("decode params file %s: %w", path, err)
	}
	return nil
}

// Validate checks the loaded configuration. Solver parameters that depend on
// the number of observations are checked again per problem.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > math.MaxUint16:
		return fmt.Errorf("http port %d out of range", c.HTTP.Port)
	case c.HTTP.MaxBodyBytes <= 0:
		return fmt.Errorf("max body bytes must be positive, got %d", c.HTTP.MaxBodyBytes)
	case c.Inference.SessionCacheSize <= 0:
		return fmt.Errorf("session cache size must be positive, got %d", c.Inference.SessionCacheSize)
	case c.Inference.MaxObservations <= 0:
		return fmt.Errorf("max observations must be positive, got %d", c.Inference.MaxObservations)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if err := c.Inference.Solver.Validate(math.MaxInt32); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

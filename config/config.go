// Package config loads the orchestrator's runtime configuration from a YAML
// file into an immutable struct. Configuration is read once at startup;
// everything derived from it (destination table, breaker thresholds, join
// timeouts) is read-only afterwards.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/meridian-commerce/orchestrator/breaker"
	"github.com/meridian-commerce/orchestrator/events"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=error warn info debug"`

	AMQPURL  string `yaml:"amqpUrl"`
	RedisURL string `yaml:"redisUrl"`

	Breaker BreakerConfig `yaml:"breaker"`

	JoinTimeout   time.Duration `yaml:"joinTimeout" validate:"min=0"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace" validate:"min=0"`

	Pool PoolConfig `yaml:"pool"`

	Destinations []DestinationConfig `yaml:"destinations" validate:"dive"`
}

// BreakerConfig holds the circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout" validate:"min=0"`
	Interval         time.Duration `yaml:"interval" validate:"min=0"`
}

// PoolConfig sizes the asynchronous task pool.
type PoolConfig struct {
	Workers   int `yaml:"workers" validate:"min=0"`
	QueueSize int `yaml:"queueSize" validate:"min=0"`
}

// DestinationConfig is one event-type routing entry.
type DestinationConfig struct {
	EventType string `yaml:"eventType" validate:"required"`
	Kind      string `yaml:"kind" validate:"required"`
	Channel   string `yaml:"channel" validate:"required"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			Interval:         2 * time.Minute,
		},
		JoinTimeout:   5 * time.Second,
		ShutdownGrace: 10 * time.Second,
		Pool: PoolConfig{
			Workers:   8,
			QueueSize: 256,
		},
	}
}

// Load reads and validates the configuration at path. An empty path yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks structural constraints and the destination entries.
func (cfg Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	for _, dest := range cfg.Destinations {
		if _, err := events.ParseChannelKind(dest.Kind); err != nil {
			return fmt.Errorf("destination %q: %w", dest.EventType, err)
		}
	}

	return nil
}

// normalize fills zero values with defaults.
func (cfg *Config) normalize() {
	defaults := Default()

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = defaults.Breaker.FailureThreshold
	}

	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = defaults.Breaker.ResetTimeout
	}

	if cfg.Breaker.Interval == 0 {
		cfg.Breaker.Interval = defaults.Breaker.Interval
	}

	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = defaults.JoinTimeout
	}

	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = defaults.ShutdownGrace
	}

	if cfg.Pool.Workers == 0 {
		cfg.Pool.Workers = defaults.Pool.Workers
	}

	if cfg.Pool.QueueSize == 0 {
		cfg.Pool.QueueSize = defaults.Pool.QueueSize
	}
}

// BreakerSettings converts the breaker section into breaker.Config.
func (cfg Config) BreakerSettings() breaker.Config {
	return breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		Interval:         cfg.Breaker.Interval,
	}
}

// DestinationTable builds the immutable routing table from the destination
// entries; an empty list yields the built-in defaults.
func (cfg Config) DestinationTable() (*events.DestinationTable, error) {
	if len(cfg.Destinations) == 0 {
		return events.DefaultDestinationTable(), nil
	}

	entries := make(map[string]events.Destination, len(cfg.Destinations))

	for _, dest := range cfg.Destinations {
		kind, err := events.ParseChannelKind(dest.Kind)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", dest.EventType, err)
		}

		entries[dest.EventType] = events.Destination{Kind: kind, Name: dest.Channel}
	}

	return events.NewDestinationTable(entries)
}

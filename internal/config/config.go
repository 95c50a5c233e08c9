// internal/config/config.go

// Package config loads the service configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Port       string           `yaml:"port"`
	Store      StoreConfig      `yaml:"store"`
	EventStore EventStoreConfig `yaml:"eventstore"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// EventStoreConfig enables the loan journal when URL is set.
type EventStoreConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig switches the book lock to Redis when Addr is set.
type RedisConfig struct {
	Addr    string        `yaml:"addr"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// RateLimitConfig bounds the request rate. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AuthConfig holds the Argon2id hash of the bearer token required on
// mutating requests. Empty disables authentication.
type AuthConfig struct {
	TokenHash string `yaml:"token_hash"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:  "8080",
		Store: StoreConfig{Driver: DriverMemory},
		Redis: RedisConfig{LockTTL: 5 * time.Second},
		RateLimit: RateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
		Log:       LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{ServiceName: "libraryhub"},
	}
}

// Load reads path (if not empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.unmarshal(content); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Unmarshal parses YAML on top of the defaults without consulting the
// environment.
func Unmarshal(content []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.unmarshal(content); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) unmarshal(content []byte) error {
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	str("PORT", &c.Port)
	str("STORE_DRIVER", &c.Store.Driver)
	str("DATABASE_URL", &c.Store.DSN)
	str("EVENTSTORE_URL", &c.EventStore.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("API_TOKEN_HASH", &c.Auth.TokenHash)
	str("LOG_LEVEL", &c.Log.Level)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("SERVICE_NAME", &c.Telemetry.ServiceName)

	if v, ok := lookup("LOCK_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: LOCK_TTL: %v", ErrInvalid, err)
		}
		c.Redis.LockTTL = d
	}
	if v, ok := lookup("RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: RATE_LIMIT_RPS: %v", ErrInvalid, err)
		}
		c.RateLimit.RPS = rps
	}
	if v, ok := lookup("RATE_LIMIT_BURST"); ok {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: RATE_LIMIT_BURST: %v", ErrInvalid, err)
		}
		c.RateLimit.Burst = burst
	}
	return nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store driver %q needs DATABASE_URL", ErrInvalid, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.Store.Driver)
	}

	if c.Port == "" {
		return fmt.Errorf("%w: port must not be empty", ErrInvalid)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalid)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("%w: rate limit burst must be at least 1", ErrInvalid)
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("%w: lock ttl must be positive", ErrInvalid)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level: %v", ErrInvalid, err)
	}
	return level, nil
}

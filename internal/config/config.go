// Package config handles application configuration from defaults, an
// optional YAML file, and environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable. Nested keys use a double
// underscore: RISKWATCH_STORE__BACKEND sets store.backend.
const EnvPrefix = "RISKWATCH_"

// ConfigFileEnv names the environment variable holding an optional YAML
// config file path.
const ConfigFileEnv = "RISKWATCH_CONFIG_FILE"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	Env             string        `koanf:"env" validate:"oneof=development staging production"`
	LogLevel        string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string        `koanf:"log_format" validate:"oneof=text json"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// OTLPEndpoint enables tracing when set
	OTLPEndpoint string `koanf:"otlp_endpoint"`

	HTTP  HTTPConfig  `koanf:"http"`
	Store StoreConfig `koanf:"store"`
	Jobs  JobsConfig  `koanf:"jobs"`
	Risk  RiskConfig  `koanf:"risk"`
}

// HTTPConfig configures the API surface.
type HTTPConfig struct {
	// RateLimitPerMinute caps /v1 requests per client IP; 0 disables it
	RateLimitPerMinute int      `koanf:"rate_limit_per_minute" validate:"gte=0"`
	RateLimitBurst     int      `koanf:"rate_limit_burst" validate:"gte=0"`
	CORSOrigins        []string `koanf:"cors_origins"`
	MaxBodyBytes       int64    `koanf:"max_body_bytes" validate:"gt=0"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Backend     string      `koanf:"backend" validate:"oneof=memory postgres redis"`
	DatabaseURL string      `koanf:"database_url"`
	Redis       RedisConfig `koanf:"redis"`

	// Migrate applies pending migrations on startup (postgres only)
	Migrate bool `koanf:"migrate"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the per-set store circuit breaker. A zero
// threshold disables it.
type BreakerConfig struct {
	Threshold    int           `koanf:"threshold" validate:"gte=0"`
	OpenDuration time.Duration `koanf:"open_duration" validate:"gte=0"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
	Prefix   string `koanf:"prefix"`
}

// JobsConfig configures the batch jobs.
type JobsConfig struct {
	// Interval between scheduled job cycles; 0 disables the scheduler
	Interval       time.Duration `koanf:"interval" validate:"gte=0"`
	WindowDays     int           `koanf:"window_days" validate:"gte=1,lte=365"`
	ComputeWorkers int           `koanf:"compute_workers" validate:"gte=1,lte=256"`
}

// RiskConfig seeds the initial scoring configuration.
type RiskConfig struct {
	Threshold    float64 `koanf:"threshold" validate:"gte=0,lte=100"`
	CooldownDays int     `koanf:"cooldown_days" validate:"gte=0,lte=365"`
}

// Defaults
const (
	DefaultPort           = 8080
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultWindowDays     = 7
	DefaultRiskThreshold  = 70
	DefaultCooldownDays   = 7
	DefaultRedisPrefix    = "riskwatch"
	DefaultShutdownPeriod = 15 * time.Second
	DefaultMaxBodyBytes   = 1 << 20
)

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Port:            DefaultPort,
		Env:             DefaultEnv,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		ShutdownTimeout: DefaultShutdownPeriod,
		HTTP: HTTPConfig{
			RateLimitPerMinute: 120,
			RateLimitBurst:     20,
			MaxBodyBytes:       DefaultMaxBodyBytes,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Redis:   RedisConfig{Prefix: DefaultRedisPrefix},
			Breaker: BreakerConfig{Threshold: 5, OpenDuration: 30 * time.Second},
		},
		Jobs: JobsConfig{
			WindowDays:     DefaultWindowDays,
			ComputeWorkers: 1,
		},
		Risk: RiskConfig{
			Threshold:    DefaultRiskThreshold,
			CooldownDays: DefaultCooldownDays,
		},
	}
}

// Load reads configuration: struct defaults, then the YAML file named by
// RISKWATCH_CONFIG_FILE, then RISKWATCH_* environment variables.
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps RISKWATCH_JOBS__WINDOW_DAYS to jobs.window_days.
func envKey(s string) string {
	if s == ConfigFileEnv {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

var validate = validator.New()

// Validate checks field constraints and backend requirements
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required for the postgres backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis backend")
		}
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

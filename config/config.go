// Package config loads service configuration from the environment and the
// static badge catalog from disk.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/alem-hub/edu-progress/pkg/timeutil"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Quota    QuotaConfig
	Progress ProgressConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `env:"APP_NAME" envDefault:"edu-progress"`
	Environment Environment `env:"APP_ENV" envDefault:"development"`
	Version     string      `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string      `env:"LOG_LEVEL" envDefault:"info"`

	// Timezone defines the quota day boundary.
	Timezone string `env:"APP_TIMEZONE" envDefault:"Asia/Almaty"`
	location *time.Location

	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// HTTPConfig holds the JSON API listener settings.
type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxBodyBytes int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"65536"`

	// StrictUserIDs rejects X-User-ID values that are not UUIDs.
	StrictUserIDs bool `env:"HTTP_STRICT_USER_IDS" envDefault:"false"`
}

// DatabaseConfig holds PostgreSQL connection settings.
// An empty URL selects the in-memory durable store.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"10s"`

	// Transient query failures are retried with capped exponential backoff.
	RetryAttempts     int           `env:"DB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"DB_RETRY_INITIAL_DELAY" envDefault:"50ms"`
	RetryMaxDelay     time.Duration `env:"DB_RETRY_MAX_DELAY" envDefault:"1s"`
}

// RedisConfig holds the ephemeral store settings. When Disabled the
// in-process LRU is used instead.
type RedisConfig struct {
	Addr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	Disabled     bool          `env:"REDIS_DISABLED" envDefault:"false"`
	EventChannel string        `env:"REDIS_EVENT_CHANNEL"`
}

// QuotaConfig holds metering settings.
type QuotaConfig struct {
	GuestTTL          time.Duration `env:"QUOTA_GUEST_TTL" envDefault:"168h"`
	LRUSize           int           `env:"QUOTA_LRU_SIZE" envDefault:"100000"`
	BackgroundWorkers int64         `env:"QUOTA_BACKGROUND_WORKERS" envDefault:"16"`
	BackgroundTimeout time.Duration `env:"QUOTA_BACKGROUND_TIMEOUT" envDefault:"5s"`
}

// ProgressConfig holds progression settings.
type ProgressConfig struct {
	// CatalogFile is a TOML or YAML badge catalog. Empty uses the built-in one.
	CatalogFile  string `env:"PROGRESS_CATALOG_FILE"`
	BadgeRewards bool   `env:"PROGRESS_BADGE_REWARDS" envDefault:"true"`
}

// Load parses configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	loc, err := timeutil.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app config: %w", err)
	}
	cfg.App.location = loc

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("APP_ENV %q is not one of development, staging, production", c.App.Environment))
	}

	if c.App.Environment == EnvProduction && c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required in production")
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, "HTTP_ADDR is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, "DB_MAX_CONNS must be >= DB_MIN_CONNS")
	}

	if !c.Redis.Disabled && c.Redis.Addr == "" {
		errs = append(errs, "REDIS_ADDR is required unless REDIS_DISABLED")
	}

	if c.Quota.GuestTTL <= 0 {
		errs = append(errs, "QUOTA_GUEST_TTL must be positive")
	}
	if c.Quota.BackgroundWorkers <= 0 {
		errs = append(errs, "QUOTA_BACKGROUND_WORKERS must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location returns the resolved timezone, UTC before Load.
func (a AppConfig) Location() *time.Location {
	if a.location == nil {
		return time.UTC
	}
	return a.location
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

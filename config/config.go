// Package config loads environment configuration for the admission gateway.
// A .env file is honored when present; process environment wins.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/coursegate/coursegate/core"
)

// Config holds every recognized environment option.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	// Shared bucket store location.
	StoreHost     string        `env:"STORE_HOST" envDefault:"localhost"`
	StorePort     int           `env:"STORE_PORT" envDefault:"6379"`
	StorePassword string        `env:"STORE_PASSWORD"`
	StoreDB       int           `env:"STORE_DB" envDefault:"0"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"50ms"`

	// TTL on every bucket write; a small multiple of the window so idle
	// clients' state is reclaimed.
	BucketTTL time.Duration `env:"BUCKET_TTL" envDefault:"5m"`

	// Rate policy tiers.
	RateWindowMS         int64   `env:"RATE_WINDOW_MS" envDefault:"60000"`
	RateMaxAuthenticated float64 `env:"RATE_MAX_AUTHENTICATED" envDefault:"30"`
	RateMaxAnonymous     float64 `env:"RATE_MAX_ANONYMOUS" envDefault:"10"`

	// CASRetries caps compare-and-set retries on stores without a scripted
	// atomic step.
	CASRetries int `env:"CAS_RETRIES" envDefault:"3"`

	// FailMode is "open" (default) or "closed".
	FailMode string `env:"FAIL_MODE" envDefault:"open"`

	// TrustProxy enables X-Forwarded-For / X-Real-IP key resolution. Only
	// set behind a trusted reverse proxy.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`

	AuthSecret string `env:"AUTH_SECRET" envDefault:"SuperSecret"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Load reads .env (if any) and the environment, then validates. Policy
// misconfiguration is an error here so the process fails fast instead of
// running with an unbounded or always-denying policy.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment is enough.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the gate must not start with.
func (c *Config) Validate() error {
	if _, err := core.NewTable(c.RateWindowMS, c.RateMaxAuthenticated, c.RateMaxAnonymous); err != nil {
		return fmt.Errorf("rate policy: %w", err)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.FailMode != "open" && c.FailMode != "closed" {
		return fmt.Errorf("FAIL_MODE must be \"open\" or \"closed\", got %q", c.FailMode)
	}
	return nil
}

// StoreAddr returns the host:port of the shared store.
func (c *Config) StoreAddr() string {
	return fmt.Sprintf("%s:%d", c.StoreHost, c.StorePort)
}

// Tiers builds the policy table from the configured window and capacities.
func (c *Config) Tiers() (core.Table, error) {
	return core.NewTable(c.RateWindowMS, c.RateMaxAuthenticated, c.RateMaxAnonymous)
}

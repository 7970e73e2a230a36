// Package config loads the storefront settings from the environment.
//
// Every variable is read with the STOREFRONT_ prefix. Tagged names also fall
// back to the unprefixed variable, so the standard OTEL_* variables and a
// plain REDIS_ADDR work without duplication.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "storefront"

type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseDSN    string `envconfig:"DATABASE_DSN" default:"./data/storefront.db"`

	// RedisAddr selects the redis session store. Empty keeps sessions in
	// process memory.
	RedisAddr  string        `envconfig:"REDIS_ADDR"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	// IdempotencyTTL bounds how long a checkout idempotency key is remembered.
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"storefront"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Environment  string `envconfig:"OTEL_RESOURCE_ATTRIBUTES_ENV" default:"local"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values envconfig cannot express as tags.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("config: unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("config: DATABASE_DSN is required")
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("config: JWT_SECRET must be at least 16 bytes")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: SESSION_TTL must be positive")
	}
	return nil
}

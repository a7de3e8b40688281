// Package config reads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends understood by cmd/api.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds every runtime setting of the API process.
type Config struct {
	HTTPAddr     string        `env:"DEFECTRA_HTTP_ADDR"      envDefault:":8080"`
	GRPCAddr     string        `env:"DEFECTRA_GRPC_ADDR"      envDefault:":9090"`
	Storage      string        `env:"DEFECTRA_STORAGE"        envDefault:"sqlite"`
	SQLitePath   string        `env:"DEFECTRA_SQLITE_PATH"    envDefault:"defectra.db"`
	PostgresDSN  string        `env:"DEFECTRA_PG_DSN"`
	AuthSecret   string        `env:"DEFECTRA_AUTH_SECRET"`
	TokenTTL     time.Duration `env:"DEFECTRA_TOKEN_TTL"      envDefault:"12h"`
	RateBurst    int           `env:"DEFECTRA_RATE_BURST"     envDefault:"20"`
	RatePerSec   float64       `env:"DEFECTRA_RATE_PER_SEC"   envDefault:"10"`
	MaxBodyBytes int64         `env:"DEFECTRA_MAX_BODY_BYTES" envDefault:"1048576"`
	CORSOrigins  []string      `env:"DEFECTRA_CORS_ORIGINS"   envSeparator:","`
}

// Load parses the environment and checks the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("DEFECTRA_SQLITE_PATH is required for sqlite storage")
		}
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("DEFECTRA_PG_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("DEFECTRA_AUTH_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("DEFECTRA_TOKEN_TTL must be positive")
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("rate limit settings must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("DEFECTRA_MAX_BODY_BYTES must be positive")
	}
	return nil
}

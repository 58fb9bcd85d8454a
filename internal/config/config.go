// Package config loads service configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Port     string `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL,default=30s"`

	ItemRegistry       string `env:"ITEM_REGISTRY_ADDRESS,default=item-registry"`
	TokenRegistry      string `env:"TOKEN_REGISTRY_ADDRESS,default=token-registry"`
	MarketplaceAddress string `env:"MARKETPLACE_ADDRESS,default=marketplace"`
	NativeDenom        string `env:"NATIVE_DENOM,default=uxion"`

	GatewayURL     string        `env:"SETTLEMENT_GATEWAY_URL"`
	GatewayRPS     float64       `env:"SETTLEMENT_GATEWAY_RPS,default=20"`
	GatewayTimeout time.Duration `env:"SETTLEMENT_GATEWAY_TIMEOUT,default=10s"`

	DrainInterval time.Duration `env:"CONFIRMATION_DRAIN_INTERVAL,default=1s"`
}

// Load reads the given .env files, if present, and decodes the
// environment. Variables already set in the environment win over the
// files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MarketplaceAddress == "" {
		return errors.New("MARKETPLACE_ADDRESS must not be empty")
	}
	if c.ItemRegistry == c.TokenRegistry {
		return errors.New("item and token registries must have distinct addresses")
	}
	if c.GatewayURL != "" && c.GatewayRPS <= 0 {
		return errors.New("SETTLEMENT_GATEWAY_RPS must be positive")
	}
	if c.DrainInterval <= 0 {
		return errors.New("CONFIRMATION_DRAIN_INTERVAL must be positive")
	}
	return nil
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

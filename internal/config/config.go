package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./data/parley.db"`
	RedisURL    string `env:"REDIS_URL"`

	// Event export
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"parley.messages"`

	// Fan-out
	ChannelCapacity    int           `env:"CHANNEL_CAPACITY" envDefault:"10"`
	RelayCapacity      int           `env:"RELAY_CAPACITY" envDefault:"32"`
	KeepAliveInterval  time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"15s"`
	RoomScopedDelivery bool          `env:"ROOM_SCOPED_DELIVERY" envDefault:"false"`

	// Rate limiting
	RateLimitWhitelist []string `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `env:"AUTO_BLOCK_ENABLED" envDefault:"false"` // Enable auto-blocking after repeated violations

	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"8192"`
}

// Load reads configuration from environment variables.
// A .env file is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.RateLimitWhitelist = trimAll(cfg.RateLimitWhitelist)
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.Env == "production" && c.StoreDriver == DriverMemory {
		return errors.New("memory store is not allowed in production")
	}
	if c.ChannelCapacity < 1 {
		return errors.New("CHANNEL_CAPACITY must be positive")
	}
	if c.RelayCapacity < 1 {
		return errors.New("RELAY_CAPACITY must be positive")
	}
	if c.KeepAliveInterval < 0 {
		return errors.New("KEEPALIVE_INTERVAL must not be negative")
	}
	if c.MaxBodyBytes < 1 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// KafkaEnabled reports whether message export is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func trimAll(entries []string) []string {
	var out []string
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

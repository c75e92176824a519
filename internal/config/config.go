// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DatabaseURL  string   `env:"DATABASE_URL"`
	RedisURL     string   `env:"REDIS_URL"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"remittance-ledger-events"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// JWT auth is enabled when the secret is set; otherwise X-Caller is trusted.
	JWTSecret   string `env:"JWT_HS256_SECRET"`
	JWTIssuer   string `env:"JWT_ISSUER"`
	JWTAudience string `env:"JWT_AUDIENCE"`

	MaxAmount         uint64        `env:"MAX_AMOUNT" envDefault:"1000000000000"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1h"`
	RateLimitPerWin   uint32        `env:"RATE_LIMIT_MAX_PER_WINDOW" envDefault:"10"`
	DailySendLimit    uint64        `env:"DAILY_SEND_LIMIT" envDefault:"0"`
	MigrationHashAlg  string        `env:"MIGRATION_HASH_ALG" envDefault:"sha256"`
	HTTPThrottleRPS   float64       `env:"HTTP_THROTTLE_RPS" envDefault:"50"`
	HTTPThrottleBurst int           `env:"HTTP_THROTTLE_BURST" envDefault:"100"`
	TrustProxy        bool          `env:"TRUST_PROXY" envDefault:"false"`
	IdempotencyTTL    time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	DevSeed  bool   `env:"DEV_SEED" envDefault:"false"`
	DevAdmin string `env:"DEV_ADMIN"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the ledger cannot store or enforce.
func (c Config) Validate() error {
	if c.MaxAmount == 0 || c.MaxAmount > math.MaxInt64 {
		return fmt.Errorf("MAX_AMOUNT must be in 1..%d", int64(math.MaxInt64))
	}
	if c.DailySendLimit > math.MaxInt64 {
		return fmt.Errorf("DAILY_SEND_LIMIT must not exceed %d", int64(math.MaxInt64))
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.HTTPThrottleRPS < 0 || c.HTTPThrottleBurst < 0 {
		return fmt.Errorf("HTTP throttle settings must not be negative")
	}
	return nil
}

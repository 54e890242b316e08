package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

const (
	EventsPoll = "poll"
	EventsPush = "push"
)

type Config struct {
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"cid-escrow"`

	Server struct {
		Port       int    `env:"PORT" envDefault:"8080"`
		Origin     string `env:"ORIGIN" envDefault:"*"`
		AdminToken string `env:"ADMIN_TOKEN" envDefault:""`
	}

	Redis struct {
		Host     string `env:"REDIS_HOST" envDefault:"localhost"`
		Port     int    `env:"REDIS_PORT" envDefault:"6379"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`

		// Pub/sub channel carrying ledger account-change notifications
		EventsChannel string `env:"LEDGER_EVENTS_CHANNEL" envDefault:"ledger:accounts"`
	}

	Ledger struct {
		URL          string        `env:"LEDGER_URL" envDefault:"http://localhost:8899"`
		Events       string        `env:"LEDGER_EVENTS" envDefault:"poll"` // poll, push
		PollInterval time.Duration `env:"LEDGER_POLL_INTERVAL" envDefault:"2s"`
		Timeout      time.Duration `env:"LEDGER_TIMEOUT" envDefault:"10s"`
	}

	Wallet struct {
		// base58 64-byte ed25519 secret key
		SecretKey string `env:"WALLET_SECRET_KEY" envDefault:""`
	}

	Proof struct {
		MaxAge           time.Duration `env:"PROOF_MAX_AGE" envDefault:"300s"`
		CacheTTL         time.Duration `env:"PROOF_CACHE_TTL" envDefault:"30s"`
		CacheSize        int           `env:"PROOF_CACHE_SIZE" envDefault:"10000"`
		BatchConcurrency int           `env:"PROOF_BATCH_CONCURRENCY" envDefault:"8"`
	}

	Reveal struct {
		// collection address -> CID served by this pinner
		Catalog map[string]string `env:"PINNER_CATALOG" envSeparator:"," envKeyValSeparator:"="`
		Timeout time.Duration     `env:"REVEAL_TIMEOUT" envDefault:"2m"`
	}

	Gateway struct {
		URL     string        `env:"GATEWAY_URL" envDefault:"https://ipfs.io"`
		Timeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"8s"`

		// Manifests are cached in Redis for this long; 0 disables the cache
		CacheTTL time.Duration `env:"GATEWAY_CACHE_TTL" envDefault:"0"`
	}
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// .env is optional; production sets variables directly
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("PORT out of range: %d", c.Server.Port))
	}
	if c.Ledger.Events != EventsPoll && c.Ledger.Events != EventsPush {
		result = multierror.Append(result, fmt.Errorf("LEDGER_EVENTS must be %q or %q, got %q", EventsPoll, EventsPush, c.Ledger.Events))
	}
	if c.Ledger.PollInterval <= 0 {
		result = multierror.Append(result, errors.New("LEDGER_POLL_INTERVAL must be positive"))
	}
	if c.Proof.MaxAge <= 0 {
		result = multierror.Append(result, errors.New("PROOF_MAX_AGE must be positive"))
	}
	if c.Proof.CacheTTL <= 0 {
		result = multierror.Append(result, errors.New("PROOF_CACHE_TTL must be positive"))
	}
	if c.Proof.CacheSize <= 0 {
		result = multierror.Append(result, errors.New("PROOF_CACHE_SIZE must be positive"))
	}
	if c.Proof.BatchConcurrency <= 0 {
		result = multierror.Append(result, errors.New("PROOF_BATCH_CONCURRENCY must be positive"))
	}
	if c.Reveal.Timeout <= 0 {
		result = multierror.Append(result, errors.New("REVEAL_TIMEOUT must be positive"))
	}
	if c.Gateway.CacheTTL < 0 {
		result = multierror.Append(result, errors.New("GATEWAY_CACHE_TTL must not be negative"))
	}
	return result.ErrorOrNil()
}

// NeedsRedis reports whether any enabled feature uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Ledger.Events == EventsPush || c.Gateway.CacheTTL > 0
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver     string `envconfig:"STORE_DRIVER" default:"memory"`
	StoreMaxRetries int    `envconfig:"STORE_MAX_RETRIES" default:"50"`
	PGDSN           string `envconfig:"PG_DSN"`
	PGMaxConns      int32  `envconfig:"PG_MAX_CONNS" default:"10"`

	RedisAddr  string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	LockDriver string        `envconfig:"LOCK_DRIVER" default:"local"`
	LockWait   time.Duration `envconfig:"LOCK_WAIT" default:"5s"`
	LockTTL    time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	AuditSink   string `envconfig:"AUDIT_SINK" default:"log"`
	AuditBuffer int    `envconfig:"AUDIT_BUFFER" default:"1024"`

	SeedPath string `envconfig:"SEED_PATH"`

	EnforceNonNegativeStock bool   `envconfig:"ENFORCE_NON_NEGATIVE_STOCK" default:"false"`
	PaymentAllocation       string `envconfig:"PAYMENT_ALLOCATION" default:"oldest"`
	RateLimitPerMinute      int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"600"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unsupported drivers and incomplete combinations.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.PGDSN == "" {
			return errors.New("PG_DSN must be provided for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.LockDriver {
	case "local", "redis":
	default:
		return fmt.Errorf("unsupported LOCK_DRIVER %q", c.LockDriver)
	}
	if c.LockDriver == "redis" && c.RedisAddr == "" {
		return errors.New("REDIS_ADDR must be provided for the redis lock")
	}
	switch c.AuditSink {
	case "log":
	case "queue":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR must be provided for the queue audit sink")
		}
	default:
		return fmt.Errorf("unsupported AUDIT_SINK %q", c.AuditSink)
	}
	switch c.PaymentAllocation {
	case "oldest", "due_date":
	default:
		return fmt.Errorf("unsupported PAYMENT_ALLOCATION %q", c.PaymentAllocation)
	}
	if c.LockWait <= 0 {
		return errors.New("LOCK_WAIT must be positive")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

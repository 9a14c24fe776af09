package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the tipcast service.
type Config struct {
	Addr           string        `env:"ADDR,default=:4000"`
	DataDir        string        `env:"DATA_DIR,default=./data"`
	FrontendOrigin string        `env:"FRONTEND_ORIGIN,default=http://localhost:3000"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`
	MinTip         float64       `env:"MIN_TIP,default=0.0001"`
	MaxTip         float64       `env:"MAX_TIP,default=1000000"`
	ConfirmDelay   time.Duration `env:"CONFIRM_DELAY,default=2500ms"`
	PollInterval   time.Duration `env:"POLL_INTERVAL,default=4s"`
	PollMaxTries   int           `env:"POLL_MAX_ATTEMPTS,default=75"`
	LedgerAPIURL   string        `env:"LEDGER_API_URL"`
	LedgerAPIKey   string        `env:"LEDGER_API_KEY"`
	NATSURL        string        `env:"NATS_URL"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}

	cfg.LedgerAPIURL = strings.TrimRight(strings.TrimSpace(cfg.LedgerAPIURL), "/")
	cfg.LedgerAPIKey = strings.TrimSpace(cfg.LedgerAPIKey)
	cfg.FrontendOrigin = strings.TrimRight(strings.TrimSpace(cfg.FrontendOrigin), "/")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MinTip <= 0 {
		return fmt.Errorf("MIN_TIP must be positive, got %v", c.MinTip)
	}
	if c.MaxTip <= c.MinTip {
		return fmt.Errorf("MAX_TIP (%v) must exceed MIN_TIP (%v)", c.MaxTip, c.MinTip)
	}
	if c.ConfirmDelay <= 0 {
		return fmt.Errorf("CONFIRM_DELAY must be positive, got %v", c.ConfirmDelay)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %v", c.PollInterval)
	}
	if c.PollMaxTries <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive, got %d", c.PollMaxTries)
	}
	return nil
}

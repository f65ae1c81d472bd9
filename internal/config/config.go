package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config carries the environment-driven settings plus fixed operational
// defaults shared across the pool, queue client and login flow.
type Config struct {
	// Environment
	Proxy              string `env:"TWS_PROXY"`
	LogLevel           string `env:"TWS_LOG_LEVEL" envDefault:"INFO"`
	EmailCodeTimeout   int    `env:"TWS_WAIT_EMAIL_CODE" envDefault:"30"`
	LoginCodeTimeout   int    `env:"LOGIN_CODE_TIMEOUT"` // alias for TWS_WAIT_EMAIL_CODE
	RaiseWhenNoAccount string `env:"TWS_RAISE_WHEN_NO_ACCOUNT"`

	// Fixed defaults, overridable in code only.
	RequestTimeout    time.Duration
	LeaseDuration     time.Duration
	NoAccountPoll     time.Duration
	EmailPoll         time.Duration
	UnknownRetryLimit int
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.LoginCodeTimeout > 0 {
		cfg.EmailCodeTimeout = cfg.LoginCodeTimeout
	}

	cfg.RequestTimeout = 10 * time.Second
	cfg.LeaseDuration = 15 * time.Minute
	cfg.NoAccountPoll = 5 * time.Second
	cfg.EmailPoll = 5 * time.Second
	cfg.UnknownRetryLimit = 3
	return cfg, nil
}

// RaiseNoAccount reports whether lease waits should fail fast instead of
// polling. Accepts "1", "true", "yes".
func (c *Config) RaiseNoAccount() bool {
	switch strings.ToLower(strings.TrimSpace(c.RaiseWhenNoAccount)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Package config loads application configuration from the environment,
// with optional .env file support for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"marketcore/internal/model"
)

// Config holds all service configuration.
type Config struct {
	// Market data source
	Symbol      string   `env:"MD_SYMBOL" envDefault:"BTCUSDT"`
	Timeframes  []string `env:"MD_TIMEFRAMES" envSeparator:"," envDefault:"1m,5m,15m,1h"`
	WSURL       string   `env:"MD_WS_URL" envDefault:"wss://stream.binance.com:9443/stream"`
	RESTBaseURL string   `env:"MD_REST_URL" envDefault:"https://api.binance.com"`
	// Days of history backfilled on startup.
	BackfillDays int `env:"MD_BACKFILL_DAYS" envDefault:"7"`

	// Reconnect policy
	ReconnectMaxRetries int           `env:"MD_RECONNECT_MAX_RETRIES" envDefault:"10"`
	ReconnectInitial    time.Duration `env:"MD_RECONNECT_INITIAL_DELAY" envDefault:"1s"`
	ReconnectMax        time.Duration `env:"MD_RECONNECT_MAX_DELAY" envDefault:"60s"`
	ReconnectMultiplier float64       `env:"MD_RECONNECT_MULTIPLIER" envDefault:"2.0"`
	ReconnectJitter     bool          `env:"MD_RECONNECT_JITTER" envDefault:"true"`

	// Synchronization policy
	MaxClockSkew  time.Duration `env:"MD_MAX_CLOCK_SKEW" envDefault:"5s"`
	SyncTimeout   time.Duration `env:"MD_SYNC_TIMEOUT" envDefault:"5s"`
	BufferSize    int           `env:"MD_BUFFER_SIZE" envDefault:"1000"`
	MinDataPoints int           `env:"MD_MIN_DATA_POINTS" envDefault:"50"`
	QualityThresh float64       `env:"MD_QUALITY_THRESHOLD" envDefault:"0.8"`

	// Pattern recognition
	MinPatternConfidence float64 `env:"MD_MIN_PATTERN_CONFIDENCE" envDefault:"0.3"`

	// Infrastructure
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads a .env file when present, then parses the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the env tags cannot express.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: MD_SYMBOL must not be empty", model.ErrInvalidConfig)
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("%w: MD_TIMEFRAMES must list at least one timeframe", model.ErrInvalidConfig)
	}
	if _, err := c.ParseTimeframes(); err != nil {
		return err
	}
	if c.BackfillDays < 0 {
		return fmt.Errorf("%w: MD_BACKFILL_DAYS must not be negative", model.ErrInvalidConfig)
	}
	if c.MinPatternConfidence < 0 || c.MinPatternConfidence > 1 {
		return fmt.Errorf("%w: MD_MIN_PATTERN_CONFIDENCE must be in [0,1]", model.ErrInvalidConfig)
	}
	if err := c.SyncConfig().Validate(); err != nil {
		return err
	}
	return c.ReconnectConfig().Validate()
}

// ParseTimeframes converts the configured codes into model timeframes.
func (c *Config) ParseTimeframes() ([]model.Timeframe, error) {
	tfs := make([]model.Timeframe, 0, len(c.Timeframes))
	for _, code := range c.Timeframes {
		tf, err := model.ParseTimeframe(code)
		if err != nil {
			return nil, fmt.Errorf("MD_TIMEFRAMES: %w", err)
		}
		tfs = append(tfs, tf)
	}
	return tfs, nil
}

// SyncConfig assembles the synchronizer policy.
func (c *Config) SyncConfig() model.SyncConfig {
	return model.SyncConfig{
		MaxClockSkew:  c.MaxClockSkew,
		SyncTimeout:   c.SyncTimeout,
		BufferSize:    c.BufferSize,
		MinDataPoints: c.MinDataPoints,
		QualityThresh: c.QualityThresh,
	}
}

// ReconnectConfig assembles the adapter reconnect policy.
func (c *Config) ReconnectConfig() model.ReconnectConfig {
	return model.ReconnectConfig{
		MaxRetries:        c.ReconnectMaxRetries,
		InitialDelay:      c.ReconnectInitial,
		MaxDelay:          c.ReconnectMax,
		BackoffMultiplier: c.ReconnectMultiplier,
		Jitter:            c.ReconnectJitter,
	}
}

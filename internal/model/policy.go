package model

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// SyncConfig is the immutable synchronization policy supplied at
// Synchronizer construction.
type SyncConfig struct {
	MaxClockSkew  time.Duration // warn threshold for |now - bar.TS|
	SyncTimeout   time.Duration // latency budget for a full sync check
	BufferSize    int           // per-timeframe ring capacity
	MinDataPoints int           // bars required before a TF can synchronize
	QualityThresh float64       // minimum mean adapter quality score
}

// DefaultSyncConfig mirrors the tuning the service ships with.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxClockSkew:  5 * time.Second,
		SyncTimeout:   5 * time.Second,
		BufferSize:    1000,
		MinDataPoints: 50,
		QualityThresh: 0.8,
	}
}

// Validate fails fast on non-positive thresholds.
func (c SyncConfig) Validate() error {
	if c.MaxClockSkew <= 0 {
		return fmt.Errorf("max clock skew %v must be positive: %w", c.MaxClockSkew, ErrInvalidConfig)
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync timeout %v must be positive: %w", c.SyncTimeout, ErrInvalidConfig)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size %d must be positive: %w", c.BufferSize, ErrInvalidConfig)
	}
	if c.MinDataPoints <= 0 || c.MinDataPoints > c.BufferSize {
		return fmt.Errorf("min data points %d must be in [1, buffer size %d]: %w",
			c.MinDataPoints, c.BufferSize, ErrInvalidConfig)
	}
	if c.QualityThresh < 0 || c.QualityThresh > 1 {
		return fmt.Errorf("quality threshold %.3f must be in [0,1]: %w", c.QualityThresh, ErrInvalidConfig)
	}
	return nil
}

// ReconnectConfig is the immutable per-adapter reconnection policy.
type ReconnectConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultReconnectConfig mirrors the tuning the adapters ship with.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:        10,
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Validate fails fast on a policy that could never reconnect.
func (c ReconnectConfig) Validate() error {
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries %d must be positive: %w", c.MaxRetries, ErrInvalidConfig)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial delay %v must be positive: %w", c.InitialDelay, ErrInvalidConfig)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max delay %v must be >= initial delay %v: %w",
			c.MaxDelay, c.InitialDelay, ErrInvalidConfig)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier %.2f must be >= 1: %w", c.BackoffMultiplier, ErrInvalidConfig)
	}
	return nil
}

// Delay computes the reconnect delay for a 0-based retry attempt:
//
//	delay = min(initial * multiplier^attempt, max)
//
// With jitter enabled the result is scaled by a uniform factor in [0.5, 1.0].
func (c ReconnectConfig) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}

// SyncStatus is the per-timeframe synchronization state, recomputed on every
// check and read by health/monitoring callers.
type SyncStatus struct {
	Timeframe      Timeframe     `json:"timeframe"`
	LastUpdate     time.Time     `json:"last_update"`
	DataCount      int           `json:"data_count"`
	SyncLatency    time.Duration `json:"sync_latency_ms"`
	IsSynchronized bool          `json:"is_synchronized"`
	QualityScore   float64       `json:"quality_score"`
}

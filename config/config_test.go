package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, []string{"1m", "5m", "15m", "1h"}, cfg.Timeframes)
	assert.Equal(t, 50, cfg.MinDataPoints)
	assert.Equal(t, time.Second, cfg.ReconnectInitial)
	assert.True(t, cfg.ReconnectJitter)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MD_SYMBOL", "ETHUSDT")
	t.Setenv("MD_TIMEFRAMES", "5m,4h")
	t.Setenv("MD_MIN_DATA_POINTS", "20")
	t.Setenv("MD_RECONNECT_INITIAL_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 20, cfg.MinDataPoints)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectInitial)

	tfs, err := cfg.ParseTimeframes()
	require.NoError(t, err)
	assert.Equal(t, []model.Timeframe{model.TF5m, model.TF4h}, tfs)
}

func TestLoad_RejectsUnknownTimeframe(t *testing.T) {
	t.Setenv("MD_TIMEFRAMES", "1m,7m")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadPolicy(t *testing.T) {
	t.Setenv("MD_MIN_DATA_POINTS", "5000")
	_, err := Load()
	assert.Error(t, err, "min data points above buffer size must fail validation")
}

func TestSyncAndReconnectAssembly(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	sc := cfg.SyncConfig()
	assert.Equal(t, 1000, sc.BufferSize)
	assert.InDelta(t, 0.8, sc.QualityThresh, 1e-9)

	rc := cfg.ReconnectConfig()
	assert.Equal(t, 10, rc.MaxRetries)
	assert.Equal(t, 60*time.Second, rc.MaxDelay)
}

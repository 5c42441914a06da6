package pattern

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/model"
)

var baseTS = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c, v float64) model.Bar {
	return model.Bar{
		Symbol:    "BTCUSDT",
		Timeframe: model.TF1h,
		TS:        baseTS.Add(time.Duration(i) * time.Hour),
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(v),
	}
}

func flatBars(closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = bar(i, c, c, c, c, 100)
	}
	return out
}

func TestDetectPinBars_Hammer(t *testing.T) {
	// Long lower wick, tiny body near the top: classic hammer.
	bars := []model.Bar{bar(0, 50100, 50105, 49500, 50102, 10)}
	hits := DetectPinBars(bars)
	require.Len(t, hits, 1)

	hit := hits[0]
	assert.Equal(t, TypePinBar, hit.Type)
	assert.Greater(t, hit.Confidence, 0.3)
	detail, ok := hit.Detail.(PinBarDetail)
	require.True(t, ok)
	assert.Equal(t, "hammer", detail.Kind)
	assert.Equal(t, "hammer", hit.Detail.Fields()["kind"])
}

func TestDetectPinBars_ShootingStar(t *testing.T) {
	// Mirrored: long upper wick, tiny body near the bottom.
	bars := []model.Bar{bar(0, 50102, 50700, 50098, 50100, 10)}
	hits := DetectPinBars(bars)
	require.Len(t, hits, 1)
	detail := hits[0].Detail.(PinBarDetail)
	assert.Equal(t, "shooting_star", detail.Kind)
}

func TestDetectPinBars_RejectsBalancedBar(t *testing.T) {
	// Symmetric wicks and a big body: not a pin bar.
	bars := []model.Bar{bar(0, 100, 110, 90, 108, 10)}
	assert.Empty(t, DetectPinBars(bars))
}

func TestDetectEngulfing_Bullish(t *testing.T) {
	bars := []model.Bar{
		bar(0, 102, 102.5, 99.5, 100, 10), // bearish, body 2
		bar(1, 99.5, 103, 99, 102.5, 10),  // bullish, body 3, contains prev
	}
	hits := DetectEngulfing(bars)
	require.Len(t, hits, 1)

	detail := hits[0].Detail.(EngulfingDetail)
	assert.Equal(t, "bullish", detail.Kind)
	assert.InDelta(t, 1.5, detail.BodyRatio, 1e-9)
	assert.InDelta(t, 0.56, hits[0].Confidence, 1e-9)
}

func TestDetectEngulfing_RejectsSameColorAndSmallBody(t *testing.T) {
	sameColor := []model.Bar{
		bar(0, 100, 103, 99, 102, 10),
		bar(1, 99, 104, 98, 103, 10),
	}
	assert.Empty(t, DetectEngulfing(sameColor))

	tooSmall := []model.Bar{
		bar(0, 102, 102.5, 99.5, 100, 10), // body 2
		bar(1, 100, 102.2, 99.8, 102, 10), // bullish but body 2 < 1.1x
	}
	assert.Empty(t, DetectEngulfing(tooSmall))
}

func TestDetectDoji_Subtypes(t *testing.T) {
	dragonfly := []model.Bar{bar(0, 100, 100.1, 99, 100.05, 10)}
	hits := DetectDoji(dragonfly)
	require.Len(t, hits, 1)
	assert.Equal(t, "dragonfly", hits[0].Detail.(DojiDetail).Kind)

	gravestone := []model.Bar{bar(0, 100.05, 101.1, 100, 100, 10)}
	hits = DetectDoji(gravestone)
	require.Len(t, hits, 1)
	assert.Equal(t, "gravestone", hits[0].Detail.(DojiDetail).Kind)

	standard := []model.Bar{bar(0, 100, 100.5, 99.5, 100.04, 10)}
	hits = DetectDoji(standard)
	require.Len(t, hits, 1)
	assert.Equal(t, "standard", hits[0].Detail.(DojiDetail).Kind)
}

func TestDetectDoji_RejectsLargeBody(t *testing.T) {
	bars := []model.Bar{bar(0, 100, 101, 99, 100.5, 10)}
	assert.Empty(t, DetectDoji(bars))
}

package pattern

import (
	"github.com/shopspring/decimal"

	"marketcore/internal/model"
)

// BreakoutConfig tunes breakout detection.
type BreakoutConfig struct {
	// ConfirmPct is the margin a close must clear beyond the level.
	ConfirmPct float64
	// RecentBars is how many trailing bars are scanned for a breakout close.
	RecentBars int
	// PriorBars is how many bars before the breakout must have stayed on the
	// level's home side.
	PriorBars int
	// VolumeAvgBars is the short local window for the volume ratio.
	VolumeAvgBars int
}

// DefaultBreakoutConfig mirrors the detector's shipping calibration.
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{ConfirmPct: 0.1, RecentBars: 5, PriorBars: 3, VolumeAvgBars: 10}
}

// DetectBreakouts scans the trailing bars for closes that cross beyond a
// detected level while the immediately preceding bars stayed on the level's
// home side. Confidence blends the level's own confidence with a boost from
// the breakout bar's volume relative to a short local average.
func DetectBreakouts(bars []model.Bar, levels []Level, cfg BreakoutConfig) []Hit {
	if len(bars) == 0 || len(levels) == 0 {
		return nil
	}

	start := len(bars) - cfg.RecentBars
	if start < cfg.PriorBars {
		start = cfg.PriorBars
	}

	var hits []Hit
	for _, lvl := range levels {
		margin := lvl.Price.Mul(decimal.NewFromFloat(cfg.ConfirmPct / 100.0))

		for i := start; i < len(bars); i++ {
			b := bars[i]
			var direction string
			if !lvl.IsSupport && b.Close.GreaterThan(lvl.Price.Add(margin)) {
				direction = "bullish"
			} else if lvl.IsSupport && b.Close.LessThan(lvl.Price.Sub(margin)) {
				direction = "bearish"
			} else {
				continue
			}
			if !priorBarsOnHomeSide(bars, i, lvl, cfg.PriorBars) {
				continue
			}

			volRatio := volumeRatio(bars, i, cfg.VolumeAvgBars)
			boost := volRatio / 3.0
			if boost > 1 {
				boost = 1
			}
			conf := clamp01(0.7*lvl.Confidence + 0.3*boost)

			hit := newHit(TypeBreakout, b.Symbol, b.Timeframe, b.TS, b.Close)
			hit.Confidence = conf
			hit.Strength = conf * 10
			hit.Detail = BreakoutDetail{Direction: direction, Level: lvl.Price, VolumeRatio: volRatio}
			hits = append(hits, hit)
			break // one breakout per level
		}
	}
	return hits
}

// priorBarsOnHomeSide checks that the n bars before index i closed on the
// side of the level a breakout must escape from.
func priorBarsOnHomeSide(bars []model.Bar, i int, lvl Level, n int) bool {
	if i < n {
		return false
	}
	for j := i - n; j < i; j++ {
		if lvl.IsSupport {
			if bars[j].Close.LessThan(lvl.Price) {
				return false
			}
		} else {
			if bars[j].Close.GreaterThan(lvl.Price) {
				return false
			}
		}
	}
	return true
}

// volumeRatio compares bar i's volume to the mean of the preceding window.
// Returns 1 when no history is available or the local average is zero.
func volumeRatio(bars []model.Bar, i, window int) float64 {
	from := i - window
	if from < 0 {
		from = 0
	}
	if from == i {
		return 1
	}
	sum := decimal.Zero
	for j := from; j < i; j++ {
		sum = sum.Add(bars[j].Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(i - from)))
	if avg.IsZero() {
		return 1
	}
	ratio, _ := bars[i].Volume.Div(avg).Float64()
	return ratio
}

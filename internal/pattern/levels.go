package pattern

import (
	"github.com/shopspring/decimal"

	"marketcore/internal/model"
)

// LevelConfig tunes support/resistance detection.
type LevelConfig struct {
	// Window is the half-width of the symmetric extremum window: a bar is a
	// peak/trough only against Window bars on each side.
	Window int
	// TolerancePct groups prices within this percentage into one level.
	TolerancePct float64
	// MinTouches is the minimum touch count for a level to be reported.
	MinTouches int
}

// DefaultLevelConfig mirrors the detector's shipping calibration.
func DefaultLevelConfig() LevelConfig {
	return LevelConfig{Window: 5, TolerancePct: 0.5, MinTouches: 2}
}

// maxLevelConfidence caps level confidence; a level is never a certainty.
const maxLevelConfidence = 0.9

// FindLevels detects support and resistance levels.
//
// A bar is a peak when its high is the maximum of the symmetric window and
// strictly above the window's mean high (troughs are mirrored on lows).
// Extremum prices within TolerancePct of each other cluster into one
// candidate level; every bar that comes within TolerancePct of the level
// counts as a touch. Confidence grows with touch count and the day span
// between first and last touch, capped at 0.9.
func FindLevels(bars []model.Bar, cfg LevelConfig) []Level {
	if cfg.Window <= 0 || len(bars) < 2*cfg.Window+1 {
		return nil
	}

	var peakPrices, troughPrices []decimal.Decimal
	for i := cfg.Window; i < len(bars)-cfg.Window; i++ {
		if isPeak(bars, i, cfg.Window) {
			peakPrices = append(peakPrices, bars[i].High)
		}
		if isTrough(bars, i, cfg.Window) {
			troughPrices = append(troughPrices, bars[i].Low)
		}
	}

	var out []Level
	for _, price := range clusterPrices(peakPrices, cfg.TolerancePct) {
		if lvl, ok := buildLevel(bars, price, false, cfg); ok {
			out = append(out, lvl)
		}
	}
	for _, price := range clusterPrices(troughPrices, cfg.TolerancePct) {
		if lvl, ok := buildLevel(bars, price, true, cfg); ok {
			out = append(out, lvl)
		}
	}
	return out
}

func isPeak(bars []model.Bar, i, w int) bool {
	high := bars[i].High
	sum := decimal.Zero
	n := 0
	for j := i - w; j <= i+w; j++ {
		sum = sum.Add(bars[j].High)
		n++
		if j != i && bars[j].High.GreaterThan(high) {
			return false
		}
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	return high.GreaterThan(mean)
}

func isTrough(bars []model.Bar, i, w int) bool {
	low := bars[i].Low
	sum := decimal.Zero
	n := 0
	for j := i - w; j <= i+w; j++ {
		sum = sum.Add(bars[j].Low)
		n++
		if j != i && bars[j].Low.LessThan(low) {
			return false
		}
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	return low.LessThan(mean)
}

// clusterPrices merges extremum prices lying within tolerancePct of a
// cluster's running mean, returning one representative price per cluster.
func clusterPrices(prices []decimal.Decimal, tolerancePct float64) []decimal.Decimal {
	if len(prices) == 0 {
		return nil
	}
	sorted := sortedPrices(prices)
	tol := decimal.NewFromFloat(tolerancePct / 100.0)

	var reps []decimal.Decimal
	clusterSum := sorted[0]
	clusterN := int64(1)
	clusterMean := sorted[0]

	for _, p := range sorted[1:] {
		band := clusterMean.Mul(tol)
		if p.Sub(clusterMean).Abs().LessThanOrEqual(band) {
			clusterSum = clusterSum.Add(p)
			clusterN++
			clusterMean = clusterSum.Div(decimal.NewFromInt(clusterN))
			continue
		}
		reps = append(reps, clusterMean)
		clusterSum = p
		clusterN = 1
		clusterMean = p
	}
	return append(reps, clusterMean)
}

// buildLevel counts touches of a candidate level across all bars and scores
// it. Returns false when the level has too few touches.
func buildLevel(bars []model.Bar, price decimal.Decimal, isSupport bool, cfg LevelConfig) (Level, bool) {
	band := price.Mul(decimal.NewFromFloat(cfg.TolerancePct / 100.0))

	lvl := Level{Price: price, IsSupport: isSupport}
	for _, b := range bars {
		ref := b.High
		if isSupport {
			ref = b.Low
		}
		if ref.Sub(price).Abs().GreaterThan(band) {
			continue
		}
		lvl.Touches++
		if lvl.FirstTouch.IsZero() || b.TS.Before(lvl.FirstTouch) {
			lvl.FirstTouch = b.TS
		}
		if b.TS.After(lvl.LastTouch) {
			lvl.LastTouch = b.TS
		}
	}
	if lvl.Touches < cfg.MinTouches {
		return Level{}, false
	}

	days := lvl.LastTouch.Sub(lvl.FirstTouch).Hours() / 24.0
	conf := 0.2 + 0.1*float64(lvl.Touches) + 0.02*days
	if conf > maxLevelConfidence {
		conf = maxLevelConfidence
	}
	lvl.Confidence = conf
	return lvl, true
}

// splitLevelPrices partitions levels into sorted support and resistance
// price lists for attachment to hits.
func splitLevelPrices(levels []Level) (supports, resistances []decimal.Decimal) {
	for _, l := range levels {
		if l.IsSupport {
			supports = append(supports, l.Price)
		} else {
			resistances = append(resistances, l.Price)
		}
	}
	return sortedPrices(supports), sortedPrices(resistances)
}

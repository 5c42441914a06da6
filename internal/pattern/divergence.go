package pattern

import (
	"math"
	"time"

	"marketcore/internal/indicator"
	"marketcore/internal/model"
)

// DivergenceConfig tunes divergence detection.
type DivergenceConfig struct {
	// Lookback is the trailing window scanned for extrema.
	Lookback int
	// ExtremaWindow is the half-width used to qualify local price extrema.
	ExtremaWindow int
}

// DefaultDivergenceConfig mirrors the detector's shipping calibration.
func DefaultDivergenceConfig() DivergenceConfig {
	return DivergenceConfig{Lookback: 30, ExtremaWindow: 2}
}

// DetectDivergence compares the last two local price extrema in the lookback
// window against the indicator values at the same timestamps. A bullish
// divergence is a lower price low with a higher indicator low; bearish is the
// mirrored higher high / lower high. Strength and confidence scale with the
// relative magnitude of the price move versus the indicator move.
//
// The indicator series (RSI, MACD line, ...) is supplied by the caller and
// matched to bars by timestamp.
func DetectDivergence(bars []model.Bar, series []indicator.Point, name string, cfg DivergenceConfig) []Hit {
	if len(bars) == 0 || len(series) == 0 {
		return nil
	}

	window := bars
	if len(window) > cfg.Lookback {
		window = window[len(window)-cfg.Lookback:]
	}

	byTS := make(map[time.Time]float64, len(series))
	for _, p := range series {
		byTS[p.TS] = p.Value
	}

	var hits []Hit
	if hit, ok := divergenceAt(window, byTS, name, cfg, true); ok {
		hits = append(hits, hit)
	}
	if hit, ok := divergenceAt(window, byTS, name, cfg, false); ok {
		hits = append(hits, hit)
	}
	return hits
}

// divergenceAt checks the trough (bullish) or peak (bearish) pair.
func divergenceAt(bars []model.Bar, ind map[time.Time]float64, name string, cfg DivergenceConfig, bullish bool) (Hit, bool) {
	idxs := localExtrema(bars, cfg.ExtremaWindow, bullish)
	if len(idxs) < 2 {
		return Hit{}, false
	}
	a, b := idxs[len(idxs)-2], idxs[len(idxs)-1]

	var priceA, priceB float64
	if bullish {
		priceA = bars[a].Low.InexactFloat64()
		priceB = bars[b].Low.InexactFloat64()
	} else {
		priceA = bars[a].High.InexactFloat64()
		priceB = bars[b].High.InexactFloat64()
	}
	indA, okA := ind[bars[a].TS]
	indB, okB := ind[bars[b].TS]
	if !okA || !okB || priceA == 0 || indA == 0 {
		return Hit{}, false
	}

	pricePct := (priceB - priceA) / priceA * 100.0
	indPct := (indB - indA) / math.Abs(indA) * 100.0

	if bullish {
		// Price lower low, indicator higher low.
		if pricePct >= 0 || indPct <= 0 {
			return Hit{}, false
		}
	} else {
		// Price higher high, indicator lower high.
		if pricePct <= 0 || indPct >= 0 {
			return Hit{}, false
		}
	}

	kind := "bearish"
	if bullish {
		kind = "bullish"
	}
	magnitude := math.Abs(pricePct) + math.Abs(indPct)
	conf := clamp01(0.3 + magnitude/50.0)
	if conf > 0.9 {
		conf = 0.9
	}

	last := bars[b]
	hit := newHit(TypeDivergence, last.Symbol, last.Timeframe, last.TS, last.Close)
	hit.Confidence = conf
	hit.Strength = conf * 10
	hit.Detail = DivergenceDetail{
		Kind:               kind,
		Indicator:          name,
		PriceChangePct:     pricePct,
		IndicatorChangePct: indPct,
	}
	return hit, true
}

// localExtrema returns indices of local troughs (troughs=true) or peaks.
func localExtrema(bars []model.Bar, w int, troughs bool) []int {
	var out []int
	for i := w; i < len(bars)-w; i++ {
		ok := true
		for j := i - w; j <= i+w && ok; j++ {
			if j == i {
				continue
			}
			if troughs {
				if bars[j].Low.LessThan(bars[i].Low) {
					ok = false
				}
			} else {
				if bars[j].High.GreaterThan(bars[i].High) {
					ok = false
				}
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

package pattern

import (
	"github.com/shopspring/decimal"

	"marketcore/internal/model"
)

// Candlestick classification thresholds.
const (
	pinBarWickBodyRatio  = 2.0  // dominant wick must exceed 2x body
	pinBarOppositeWick   = 0.3  // opposite wick must stay under 0.3x dominant
	pinBarMaxBodyToRange = 0.30 // body under 30% of total range
	engulfingMinRatio    = 1.1  // current body at least 1.1x previous body
	dojiMaxBodyToRange   = 0.10 // body under 10% of total range
	dojiWickDominance    = 0.60 // wick share marking dragonfly/gravestone
)

// DetectPinBars classifies hammers and shooting stars over the bar window.
// A bullish pin bar (hammer) has a lower wick longer than twice the body, an
// upper wick under 0.3x the lower wick and a body under 30% of the range;
// the bearish shooting star mirrors the rule on the upper wick.
func DetectPinBars(bars []model.Bar) []Hit {
	var hits []Hit
	for i := range bars {
		b := &bars[i]
		rng := b.Range().InexactFloat64()
		if rng <= 0 {
			continue
		}
		body := b.Body().InexactFloat64()
		upper := b.High.Sub(decimal.Max(b.Open, b.Close)).InexactFloat64()
		lower := decimal.Min(b.Open, b.Close).Sub(b.Low).InexactFloat64()

		var kind string
		var dominant float64
		if lower > pinBarWickBodyRatio*body && upper < pinBarOppositeWick*lower && body < pinBarMaxBodyToRange*rng {
			kind = "hammer"
			dominant = lower
		} else if upper > pinBarWickBodyRatio*body && lower < pinBarOppositeWick*upper && body < pinBarMaxBodyToRange*rng {
			kind = "shooting_star"
			dominant = upper
		} else {
			continue
		}

		// Confidence scales with how much of the bar the dominant wick owns.
		conf := clamp01(0.3 + 0.5*(dominant/rng))
		hit := newHit(TypePinBar, b.Symbol, b.Timeframe, b.TS, b.Close)
		hit.Confidence = conf
		hit.Strength = conf * 10
		hit.Detail = PinBarDetail{
			Kind:          kind,
			BodyToRange:   body / rng,
			LowerWickSize: lower,
			UpperWickSize: upper,
		}
		hits = append(hits, hit)
	}
	return hits
}

// DetectEngulfing finds two-bar engulfing formations: the current body must
// be at least 1.1x the previous body, of opposite color, and fully contain
// the previous body's open/close span.
func DetectEngulfing(bars []model.Bar) []Hit {
	var hits []Hit
	for i := 1; i < len(bars); i++ {
		prev, cur := &bars[i-1], &bars[i]
		prevBody := prev.Body()
		curBody := cur.Body()
		if prevBody.IsZero() || cur.Bullish() == prev.Bullish() {
			continue
		}
		ratio, _ := curBody.Div(prevBody).Float64()
		if ratio < engulfingMinRatio {
			continue
		}

		curTop, curBot := decimal.Max(cur.Open, cur.Close), decimal.Min(cur.Open, cur.Close)
		prevTop, prevBot := decimal.Max(prev.Open, prev.Close), decimal.Min(prev.Open, prev.Close)
		if curTop.LessThan(prevTop) || curBot.GreaterThan(prevBot) {
			continue
		}

		kind := "bearish"
		if cur.Bullish() {
			kind = "bullish"
		}
		conf := clamp01(0.4 + 0.4*(ratio-engulfingMinRatio))
		hit := newHit(TypeEngulfing, cur.Symbol, cur.Timeframe, cur.TS, cur.Close)
		hit.Confidence = conf
		hit.Strength = conf * 10
		hit.Detail = EngulfingDetail{Kind: kind, BodyRatio: ratio}
		hits = append(hits, hit)
	}
	return hits
}

// DetectDoji finds indecision bars whose body is under 10% of the range,
// sub-typed dragonfly/gravestone/standard by wick asymmetry.
func DetectDoji(bars []model.Bar) []Hit {
	var hits []Hit
	for i := range bars {
		b := &bars[i]
		rng := b.Range().InexactFloat64()
		if rng <= 0 {
			continue
		}
		body := b.Body().InexactFloat64()
		if body >= dojiMaxBodyToRange*rng {
			continue
		}
		upper := b.High.Sub(decimal.Max(b.Open, b.Close)).InexactFloat64()
		lower := decimal.Min(b.Open, b.Close).Sub(b.Low).InexactFloat64()

		kind := "standard"
		switch {
		case lower > dojiWickDominance*rng && upper < pinBarOppositeWick*lower:
			kind = "dragonfly"
		case upper > dojiWickDominance*rng && lower < pinBarOppositeWick*upper:
			kind = "gravestone"
		}

		conf := clamp01(0.35 + 0.3*(1.0-body/(dojiMaxBodyToRange*rng)))
		hit := newHit(TypeDoji, b.Symbol, b.Timeframe, b.TS, b.Close)
		hit.Confidence = conf
		hit.Strength = conf * 10
		hit.Detail = DojiDetail{Kind: kind, BodyToRange: body / rng}
		hits = append(hits, hit)
	}
	return hits
}

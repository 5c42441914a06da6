package pattern

// MarketContext carries optional market conditions used to adjust a
// confluence score. Zero values mean "unknown" and apply no adjustment.
type MarketContext struct {
	VolumeRatio   float64 // current volume vs local average
	Volatility    float64 // e.g. ATR as a fraction of price
	TrendStrength float64 // [0,1], from any trend measure the caller uses
}

// contextMultiplierCap bounds each context adjustment so no single market
// condition can run a score away.
const contextMultiplierCap = 1.15

// Scorer converts a set of pattern hits into one 0-100 confluence score.
// Pattern families are weighted so structural signals (breakouts,
// divergences) count more than single-bar formations.
type Scorer struct {
	weights map[Type]float64
}

// NewScorer creates a Scorer with the default per-type weights.
func NewScorer() *Scorer {
	return &Scorer{
		weights: map[Type]float64{
			TypeSupportResistance: 1.0,
			TypeBreakout:          1.2,
			TypeDivergence:        1.3,
			TypePinBar:            0.8,
			TypeEngulfing:         0.8,
			TypeDoji:              0.5,
		},
	}
}

// Confluence computes the weighted mean of confidence*strength across hits,
// scaled to 0-100, then applies the capped market-context multipliers.
// An empty hit set scores 0.
func (s *Scorer) Confluence(hits []Hit, ctx *MarketContext) float64 {
	if len(hits) == 0 {
		return 0
	}

	weightedSum, weightTotal := 0.0, 0.0
	for _, h := range hits {
		w, ok := s.weights[h.Type]
		if !ok {
			w = 1.0
		}
		weightedSum += w * h.Confidence * h.Strength
		weightTotal += w
	}
	// confidence*strength lives in [0,10]; scale the weighted mean to 0-100.
	score := weightedSum / weightTotal * 10.0

	if ctx != nil {
		score *= volumeMultiplier(ctx.VolumeRatio)
		score *= volatilityMultiplier(ctx.Volatility)
		score *= trendMultiplier(ctx.TrendStrength)
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// volumeMultiplier rewards above-average volume, up to the cap.
func volumeMultiplier(ratio float64) float64 {
	if ratio <= 1 {
		return 1
	}
	m := 1 + (ratio-1)*0.1
	if m > contextMultiplierCap {
		m = contextMultiplierCap
	}
	return m
}

// volatilityMultiplier discounts very quiet markets slightly and rewards
// lively ones, capped both ways.
func volatilityMultiplier(vol float64) float64 {
	if vol <= 0 {
		return 1
	}
	m := 0.95 + vol*2
	if m > contextMultiplierCap {
		m = contextMultiplierCap
	}
	if m < 0.9 {
		m = 0.9
	}
	return m
}

// trendMultiplier rewards alignment with a strong trend, up to the cap.
func trendMultiplier(strength float64) float64 {
	if strength <= 0 {
		return 1
	}
	m := 1 + strength*0.15
	if m > contextMultiplierCap {
		m = contextMultiplierCap
	}
	return m
}

package pattern

import "github.com/shopspring/decimal"

// LevelDetail carries the level behind a support/resistance hit.
type LevelDetail struct {
	Level Level `json:"level"`
}

func (d LevelDetail) Fields() map[string]any {
	kind := "resistance"
	if d.Level.IsSupport {
		kind = "support"
	}
	return map[string]any{
		"kind":    kind,
		"price":   d.Level.Price.String(),
		"touches": d.Level.Touches,
	}
}

// BreakoutDetail describes a close beyond a detected level.
type BreakoutDetail struct {
	Direction   string          `json:"direction"` // "bullish" or "bearish"
	Level       decimal.Decimal `json:"level"`
	VolumeRatio float64         `json:"volume_ratio"`
}

func (d BreakoutDetail) Fields() map[string]any {
	return map[string]any{
		"direction":    d.Direction,
		"level":        d.Level.String(),
		"volume_ratio": d.VolumeRatio,
	}
}

// PinBarDetail describes a hammer or shooting star.
type PinBarDetail struct {
	Kind          string  `json:"kind"` // "hammer" or "shooting_star"
	BodyToRange   float64 `json:"body_to_range"`
	LowerWickSize float64 `json:"lower_wick_size"`
	UpperWickSize float64 `json:"upper_wick_size"`
}

func (d PinBarDetail) Fields() map[string]any {
	return map[string]any{
		"kind":          d.Kind,
		"body_to_range": d.BodyToRange,
		"lower_wick":    d.LowerWickSize,
		"upper_wick":    d.UpperWickSize,
	}
}

// EngulfingDetail describes a two-bar engulfing formation.
type EngulfingDetail struct {
	Kind      string  `json:"kind"` // "bullish" or "bearish"
	BodyRatio float64 `json:"body_ratio"`
}

func (d EngulfingDetail) Fields() map[string]any {
	return map[string]any{"kind": d.Kind, "body_ratio": d.BodyRatio}
}

// DojiDetail describes an indecision bar, sub-typed by wick asymmetry.
type DojiDetail struct {
	Kind        string  `json:"kind"` // "dragonfly", "gravestone" or "standard"
	BodyToRange float64 `json:"body_to_range"`
}

func (d DojiDetail) Fields() map[string]any {
	return map[string]any{"kind": d.Kind, "body_to_range": d.BodyToRange}
}

// DivergenceDetail describes a price/indicator divergence.
type DivergenceDetail struct {
	Kind               string  `json:"kind"`      // "bullish" or "bearish"
	Indicator          string  `json:"indicator"` // e.g. "RSI", "MACD"
	PriceChangePct     float64 `json:"price_change_pct"`
	IndicatorChangePct float64 `json:"indicator_change_pct"`
}

func (d DivergenceDetail) Fields() map[string]any {
	return map[string]any{
		"kind":                 d.Kind,
		"indicator":            d.Indicator,
		"price_change_pct":     d.PriceChangePct,
		"indicator_change_pct": d.IndicatorChangePct,
	}
}

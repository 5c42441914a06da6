// Package pattern detects chart patterns over ordered bar sequences:
// support/resistance levels, breakouts, candlestick formations and
// price/indicator divergences, each scored with a calibrated confidence.
//
// Detectors are pure functions over bars (plus optional indicator series);
// the Engine composes them and applies the configured confidence gate.
package pattern

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketcore/internal/model"
)

// Type enumerates the supported pattern families.
type Type string

const (
	TypeSupportResistance Type = "SUPPORT_RESISTANCE"
	TypeBreakout          Type = "BREAKOUT"
	TypePinBar            Type = "PIN_BAR"
	TypeEngulfing         Type = "ENGULFING"
	TypeDoji              Type = "DOJI"
	TypeDivergence        Type = "DIVERGENCE"
)

// Detail is the type-specific payload of a Hit. Fields exposes a uniform
// key/value view for tooling and tests that traverse hits generically.
type Detail interface {
	Fields() map[string]any
}

// Level is a detected support or resistance price level.
type Level struct {
	Price      decimal.Decimal `json:"price"`
	Touches    int             `json:"touches"`
	FirstTouch time.Time       `json:"first_touch"`
	LastTouch  time.Time       `json:"last_touch"`
	IsSupport  bool            `json:"is_support"`
	Confidence float64         `json:"confidence"`
}

// Hit is one scored pattern detection.
type Hit struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Symbol     string          `json:"symbol"`
	Timeframe  model.Timeframe `json:"timeframe"`
	TS         time.Time       `json:"ts"`
	Confidence float64         `json:"confidence"` // [0,1]
	Strength   float64         `json:"strength"`   // [0,10]
	Entry      decimal.Decimal `json:"entry"`

	// Nearby levels at detection time, ascending by price.
	SupportLevels    []decimal.Decimal `json:"support_levels,omitempty"`
	ResistanceLevels []decimal.Decimal `json:"resistance_levels,omitempty"`

	Detail       Detail `json:"detail,omitempty"`
	BarsAnalyzed int    `json:"bars_analyzed"`
	Lookback     int    `json:"lookback_period"`
}

// newHit stamps the shared hit fields.
func newHit(t Type, symbol string, tf model.Timeframe, ts time.Time, entry decimal.Decimal) Hit {
	return Hit{
		ID:        uuid.NewString(),
		Type:      t,
		Symbol:    symbol,
		Timeframe: tf,
		TS:        ts,
		Entry:     entry,
	}
}

// Collection holds all hits for one symbol/timeframe analysis pass.
// It is populated once and never mutated afterwards.
type Collection struct {
	Symbol    string          `json:"symbol"`
	Timeframe model.Timeframe `json:"timeframe"`
	TS        time.Time       `json:"ts"`
	Hits      []Hit           `json:"hits"`
}

// TotalPatterns returns the number of hits.
func (c *Collection) TotalPatterns() int { return len(c.Hits) }

// AvgConfidence returns the mean confidence across hits, 0 when empty.
func (c *Collection) AvgConfidence() float64 {
	if len(c.Hits) == 0 {
		return 0
	}
	sum := 0.0
	for _, h := range c.Hits {
		sum += h.Confidence
	}
	return sum / float64(len(c.Hits))
}

// Strongest returns the hit with the highest confidence*strength product,
// or nil when the collection is empty.
func (c *Collection) Strongest() *Hit {
	if len(c.Hits) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(c.Hits); i++ {
		if c.Hits[i].Confidence*c.Hits[i].Strength > c.Hits[best].Confidence*c.Hits[best].Strength {
			best = i
		}
	}
	return &c.Hits[best]
}

// FilterByType returns the hits of one pattern family.
func (c *Collection) FilterByType(t Type) []Hit {
	var out []Hit
	for _, h := range c.Hits {
		if h.Type == t {
			out = append(out, h)
		}
	}
	return out
}

// FilterByConfidence returns hits with confidence >= min.
func (c *Collection) FilterByConfidence(min float64) []Hit {
	var out []Hit
	for _, h := range c.Hits {
		if h.Confidence >= min {
			out = append(out, h)
		}
	}
	return out
}

// sortedPrices returns a sorted copy of the given prices.
func sortedPrices(prices []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(prices))
	copy(out, prices)
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

// clamp01 clamps v into [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

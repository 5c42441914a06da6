// Package model defines the core data types shared across the market-data
// pipeline: OHLCV bars, timeframes, adapter quality counters and the
// synchronization policies/statuses that govern them.
//
// All prices are decimal.Decimal to avoid floating-point drift in price
// comparisons. Indicator math downstream converts to float64 at the edge.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents one OHLCV observation for a symbol over a timeframe.
// TS is the bar open time (UTC). Bars are immutable after construction.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	TS        time.Time       `json:"ts"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`

	// Optional exchange extras, zero when the feed does not provide them.
	QuoteVolume decimal.Decimal `json:"quote_volume,omitempty"`
	TradeCount  int64           `json:"trade_count,omitempty"`
	TakerBuyVol decimal.Decimal `json:"taker_buy_volume,omitempty"`
}

// NewBar validates and constructs a Bar. The high must be the maximum and the
// low the minimum of the four prices; violating bars are rejected here so
// nothing malformed ever reaches a buffer.
func NewBar(symbol string, tf Timeframe, ts time.Time, open, high, low, close, volume decimal.Decimal) (Bar, error) {
	maxP := decimal.Max(open, high, low, close)
	minP := decimal.Min(open, high, low, close)
	if !high.Equal(maxP) {
		return Bar{}, fmt.Errorf("bar %s %s @ %s: high %s < max(o,h,l,c) %s: %w",
			symbol, tf, ts.Format(time.RFC3339), high, maxP, ErrInvalidBar)
	}
	if !low.Equal(minP) {
		return Bar{}, fmt.Errorf("bar %s %s @ %s: low %s > min(o,h,l,c) %s: %w",
			symbol, tf, ts.Format(time.RFC3339), low, minP, ErrInvalidBar)
	}
	if volume.IsNegative() {
		return Bar{}, fmt.Errorf("bar %s %s @ %s: negative volume %s: %w",
			symbol, tf, ts.Format(time.RFC3339), volume, ErrInvalidBar)
	}
	return Bar{
		Symbol:    symbol,
		Timeframe: tf,
		TS:        ts.UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}, nil
}

// Key returns "symbol:timeframe".
func (b *Bar) Key() string {
	return b.Symbol + ":" + string(b.Timeframe)
}

// StreamKey returns the Redis stream key for this bar's series:
// "bar:{timeframe}:{symbol}".
func (b *Bar) StreamKey() string {
	return "bar:" + string(b.Timeframe) + ":" + b.Symbol
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// Range returns high - low.
func (b *Bar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// Body returns |close - open|.
func (b *Bar) Body() decimal.Decimal {
	return b.Close.Sub(b.Open).Abs()
}

// Bullish reports whether the bar closed above its open.
func (b *Bar) Bullish() bool {
	return b.Close.GreaterThan(b.Open)
}

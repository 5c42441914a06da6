// Package indicator provides technical indicator calculations over ordered
// bar sequences.
//
// Every function takes an oldest-first []model.Bar and returns a
// timestamp-aligned result slice. When there are fewer bars than the
// indicator's minimum, the result is empty rather than an error. Price math
// is float64; the exact-decimal boundary ends at the bar fields.
package indicator

import (
	"time"

	"marketcore/internal/model"
)

// Point is a single indicator value keyed by the bar timestamp that
// produced it.
type Point struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// closes extracts close prices as float64.
func closes(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close.InexactFloat64()
	}
	return out
}

// typicalPrices computes (H+L+C)/3 per bar.
func typicalPrices(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		h := bars[i].High.InexactFloat64()
		l := bars[i].Low.InexactFloat64()
		c := bars[i].Close.InexactFloat64()
		out[i] = (h + l + c) / 3.0
	}
	return out
}

// sma computes a simple mean over values[from:from+n].
func sma(values []float64, from, n int) float64 {
	sum := 0.0
	for i := from; i < from+n; i++ {
		sum += values[i]
	}
	return sum / float64(n)
}

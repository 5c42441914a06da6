package indicator

import (
	"math"

	"marketcore/internal/model"
)

// CCI computes the Commodity Channel Index over typical prices:
//
//	CCI = (TP - SMA(TP)) / (0.015 * meanAbsoluteDeviation(TP))
//
// with 0 substituted when the deviation is zero (flat window).
// First point aligns with bar index period-1.
func CCI(bars []model.Bar, period int) []Point {
	if period <= 0 || len(bars) < period {
		return nil
	}
	tps := typicalPrices(bars)

	out := make([]Point, 0, len(bars)-period+1)
	for i := period - 1; i < len(tps); i++ {
		from := i - period + 1
		mean := sma(tps, from, period)

		mad := 0.0
		for j := from; j <= i; j++ {
			mad += math.Abs(tps[j] - mean)
		}
		mad /= float64(period)

		value := 0.0
		if mad > 0 {
			value = (tps[i] - mean) / (0.015 * mad)
		}
		out = append(out, Point{TS: bars[i].TS, Value: value})
	}
	return out
}

package indicator

import (
	"time"

	"marketcore/internal/model"
)

// EMA calculates the Exponential Moving Average, seeded with the simple mean
// of the first period closes. alpha = 2/(period+1). The first point aligns
// with bar index period-1.
func EMA(bars []model.Bar, period int) []Point {
	if period <= 0 || len(bars) < period {
		return nil
	}
	return emaSeries(closes(bars), timestamps(bars), period)
}

// emaSeries runs the EMA recursion over an arbitrary float series with
// matching timestamps. Shared by MACD for its macd and signal lines.
func emaSeries(values []float64, ts []time.Time, period int) []Point {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]Point, 0, len(values)-period+1)

	current := sma(values, 0, period)
	out = append(out, Point{TS: ts[period-1], Value: current})

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		current = alpha*values[i] + (1-alpha)*current
		out = append(out, Point{TS: ts[i], Value: current})
	}
	return out
}

// timestamps extracts bar open times.
func timestamps(bars []model.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i := range bars {
		out[i] = bars[i].TS
	}
	return out
}

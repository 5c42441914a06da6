package indicator

import "marketcore/internal/model"

// RSI calculates the Relative Strength Index using Wilder's smoothing.
// The seed average gain/loss is the simple mean of the first period up/down
// deltas; subsequent values use avg = (avg*(period-1) + new) / period.
// The first point is aligned with bar index period. Needs period+1 bars.
func RSI(bars []model.Bar, period int) []Point {
	if period <= 0 || len(bars) < period+1 {
		return nil
	}
	prices := closes(bars)

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]Point, 0, len(bars)-period)
	out = append(out, Point{TS: bars[period].TS, Value: rsiValue(avgGain, avgLoss)})

	p := float64(period)
	for i := period + 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out = append(out, Point{TS: bars[i].TS, Value: rsiValue(avgGain, avgLoss)})
	}
	return out
}

// rsiValue applies the RSI formula with the flat-market edge case:
// zero average loss means 100 when there were gains, 50 when the series
// never moved at all.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain > 0 {
			return 100.0
		}
		return 50.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

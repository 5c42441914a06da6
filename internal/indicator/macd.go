package indicator

import (
	"time"

	"marketcore/internal/model"
)

// MACDResult holds the three MACD series. MACD starts once the slow EMA is
// seeded (bar index slow-1); Signal and Histogram start signalPeriod points
// later. All three are timestamp-aligned against the source bars.
type MACDResult struct {
	MACD      []Point `json:"macd"`
	Signal    []Point `json:"signal"`
	Histogram []Point `json:"histogram"`
}

// MACD computes macd = EMA(fast) - EMA(slow), a signal line that is an EMA of
// the macd series (seeded by the simple mean of its first signalPeriod
// values), and histogram = macd - signal.
func MACD(bars []model.Bar, fast, slow, signalPeriod int) MACDResult {
	if fast <= 0 || slow <= fast || signalPeriod <= 0 || len(bars) < slow {
		return MACDResult{}
	}

	prices := closes(bars)
	ts := timestamps(bars)
	fastEMA := emaSeries(prices, ts, fast)
	slowEMA := emaSeries(prices, ts, slow)

	// Align on the shorter slow-EMA series: slowEMA[j] corresponds to bar
	// index slow-1+j, which is fastEMA index slow-fast+j.
	offset := slow - fast
	macdLine := make([]Point, len(slowEMA))
	macdValues := make([]float64, len(slowEMA))
	macdTS := make([]time.Time, len(slowEMA))
	for j := range slowEMA {
		v := fastEMA[offset+j].Value - slowEMA[j].Value
		macdLine[j] = Point{TS: slowEMA[j].TS, Value: v}
		macdValues[j] = v
		macdTS[j] = slowEMA[j].TS
	}

	signal := emaSeries(macdValues, macdTS, signalPeriod)

	histogram := make([]Point, len(signal))
	for j := range signal {
		// signal[j] aligns with macdLine index signalPeriod-1+j.
		m := macdLine[signalPeriod-1+j]
		histogram[j] = Point{TS: m.TS, Value: m.Value - signal[j].Value}
	}

	return MACDResult{MACD: macdLine, Signal: signal, Histogram: histogram}
}

package indicator

import (
	"math"

	"marketcore/internal/model"
)

// ATR computes the Average True Range with Wilder smoothing.
// True range needs a previous close, so the TR series starts at bar index 1;
// the seed ATR is the simple mean of the first period true ranges and aligns
// with bar index period. Needs period+1 bars.
func ATR(bars []model.Bar, period int) []Point {
	if period <= 0 || len(bars) < period+1 {
		return nil
	}

	trs := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		h := bars[i].High.InexactFloat64()
		l := bars[i].Low.InexactFloat64()
		prevClose := bars[i-1].Close.InexactFloat64()
		trs[i-1] = math.Max(h-l, math.Max(math.Abs(h-prevClose), math.Abs(l-prevClose)))
	}

	atr := sma(trs, 0, period)
	out := make([]Point, 0, len(trs)-period+1)
	out = append(out, Point{TS: bars[period].TS, Value: atr})

	p := float64(period)
	for i := period; i < len(trs); i++ {
		atr = (atr*(p-1) + trs[i]) / p
		out = append(out, Point{TS: bars[i+1].TS, Value: atr})
	}
	return out
}

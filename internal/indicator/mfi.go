package indicator

import "marketcore/internal/model"

// MFI computes the Money Flow Index. Raw money flow is typicalPrice * volume,
// signed by the direction of the typical price against the previous bar
// (flat typical price contributes to neither side).
//
//	MFI = 100 - 100/(1 + posFlow/negFlow)
//
// with 100 substituted when the window has no negative flow.
// The first point aligns with bar index period. Needs period+1 bars.
func MFI(bars []model.Bar, period int) []Point {
	if period <= 0 || len(bars) < period+1 {
		return nil
	}
	tps := typicalPrices(bars)

	// Signed flows, one per bar transition starting at index 1.
	posFlows := make([]float64, len(bars)-1)
	negFlows := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		flow := tps[i] * bars[i].Volume.InexactFloat64()
		switch {
		case tps[i] > tps[i-1]:
			posFlows[i-1] = flow
		case tps[i] < tps[i-1]:
			negFlows[i-1] = flow
		}
	}

	out := make([]Point, 0, len(posFlows)-period+1)
	for i := period - 1; i < len(posFlows); i++ {
		pos, neg := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			pos += posFlows[j]
			neg += negFlows[j]
		}

		value := 100.0
		if neg > 0 {
			ratio := pos / neg
			value = 100.0 - 100.0/(1.0+ratio)
		}
		out = append(out, Point{TS: bars[i+1].TS, Value: value})
	}
	return out
}

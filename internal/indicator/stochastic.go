package indicator

import "marketcore/internal/model"

// StochasticResult holds the %K and %D series. %K starts at bar index
// kPeriod-1; %D, a dPeriod SMA of %K, starts dPeriod-1 points later.
type StochasticResult struct {
	K []Point `json:"k"`
	D []Point `json:"d"`
}

// Stochastic computes the stochastic oscillator:
//
//	%K = (close - lowestLow) / (highestHigh - lowestLow) * 100
//
// over a kPeriod window, with 50 substituted when the window has zero range.
func Stochastic(bars []model.Bar, kPeriod, dPeriod int) StochasticResult {
	if kPeriod <= 0 || dPeriod <= 0 || len(bars) < kPeriod {
		return StochasticResult{}
	}

	kLine := make([]Point, 0, len(bars)-kPeriod+1)
	for i := kPeriod - 1; i < len(bars); i++ {
		lowest := bars[i-kPeriod+1].Low.InexactFloat64()
		highest := bars[i-kPeriod+1].High.InexactFloat64()
		for j := i - kPeriod + 2; j <= i; j++ {
			if l := bars[j].Low.InexactFloat64(); l < lowest {
				lowest = l
			}
			if h := bars[j].High.InexactFloat64(); h > highest {
				highest = h
			}
		}

		k := 50.0
		if highest > lowest {
			k = (bars[i].Close.InexactFloat64() - lowest) / (highest - lowest) * 100.0
		}
		kLine = append(kLine, Point{TS: bars[i].TS, Value: k})
	}

	var dLine []Point
	if len(kLine) >= dPeriod {
		dLine = make([]Point, 0, len(kLine)-dPeriod+1)
		for i := dPeriod - 1; i < len(kLine); i++ {
			sum := 0.0
			for j := i - dPeriod + 1; j <= i; j++ {
				sum += kLine[j].Value
			}
			dLine = append(dLine, Point{TS: kLine[i].TS, Value: sum / float64(dPeriod)})
		}
	}

	return StochasticResult{K: kLine, D: dLine}
}

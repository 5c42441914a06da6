package indicator

import (
	"math"
	"time"

	"marketcore/internal/model"
)

// BollingerPoint is one Bollinger Bands observation.
type BollingerPoint struct {
	TS     time.Time `json:"ts"`
	Upper  float64   `json:"upper"`
	Middle float64   `json:"middle"`
	Lower  float64   `json:"lower"`
}

// BollingerBands computes the classic bands: middle = SMA(period),
// band width = k * population standard deviation (ddof=0) over the same
// window. First point aligns with bar index period-1.
func BollingerBands(bars []model.Bar, period int, k float64) []BollingerPoint {
	if period <= 0 || len(bars) < period {
		return nil
	}
	prices := closes(bars)

	out := make([]BollingerPoint, 0, len(bars)-period+1)
	for i := period - 1; i < len(prices); i++ {
		from := i - period + 1
		mean := sma(prices, from, period)

		variance := 0.0
		for j := from; j <= i; j++ {
			diff := prices[j] - mean
			variance += diff * diff
		}
		variance /= float64(period)
		band := k * math.Sqrt(variance)

		out = append(out, BollingerPoint{
			TS:     bars[i].TS,
			Upper:  mean + band,
			Middle: mean,
			Lower:  mean - band,
		})
	}
	return out
}

package indicator

import "marketcore/internal/model"

// Default periods used by the aggregate entry point. These track the common
// charting conventions the rest of the pipeline expects.
const (
	DefaultRSIPeriod       = 14
	DefaultEMAPeriod       = 20
	DefaultMACDFast        = 12
	DefaultMACDSlow        = 26
	DefaultMACDSignal      = 9
	DefaultBollingerPeriod = 20
	DefaultBollingerK      = 2.0
	DefaultATRPeriod       = 14
	DefaultStochasticK     = 14
	DefaultStochasticD     = 3
	DefaultCCIPeriod       = 20
	DefaultMFIPeriod       = 14
	DefaultVolumeLevels    = 50

	minBarsForFullSet = 50
)

// Set is the output of ComputeAll: every supported indicator over one bar
// window. Empty slices mean the window was too short for that indicator.
type Set struct {
	RSI           []Point             `json:"rsi"`
	EMA           []Point             `json:"ema"`
	MACD          MACDResult          `json:"macd"`
	Bollinger     []BollingerPoint    `json:"bollinger"`
	ATR           []Point             `json:"atr"`
	Stochastic    StochasticResult    `json:"stochastic"`
	CCI           []Point             `json:"cci"`
	MFI           []Point             `json:"mfi"`
	VolumeProfile VolumeProfileResult `json:"volume_profile"`
}

// Empty reports whether the set holds no values at all.
func (s *Set) Empty() bool {
	return len(s.RSI) == 0 && len(s.EMA) == 0 && len(s.MACD.MACD) == 0 &&
		len(s.Bollinger) == 0 && len(s.ATR) == 0 && len(s.Stochastic.K) == 0 &&
		len(s.CCI) == 0 && len(s.MFI) == 0 && len(s.VolumeProfile.Levels) == 0
}

// ComputeAll runs the full indicator set with default periods. Windows below
// 50 bars return an empty Set; the synchronizer and the pattern confluence
// logic both rely on that floor.
func ComputeAll(bars []model.Bar) Set {
	if len(bars) < minBarsForFullSet {
		return Set{}
	}
	return Set{
		RSI:           RSI(bars, DefaultRSIPeriod),
		EMA:           EMA(bars, DefaultEMAPeriod),
		MACD:          MACD(bars, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal),
		Bollinger:     BollingerBands(bars, DefaultBollingerPeriod, DefaultBollingerK),
		ATR:           ATR(bars, DefaultATRPeriod),
		Stochastic:    Stochastic(bars, DefaultStochasticK, DefaultStochasticD),
		CCI:           CCI(bars, DefaultCCIPeriod),
		MFI:           MFI(bars, DefaultMFIPeriod),
		VolumeProfile: VolumeProfile(bars, DefaultVolumeLevels),
	}
}

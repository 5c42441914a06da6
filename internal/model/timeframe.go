package model

import (
	"fmt"
	"time"
)

// Timeframe is an exchange-style interval code ("15m", "1h", ...).
type Timeframe string

// Supported timeframes and their nominal bar periods.
const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var tfDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// ParseTimeframe maps an interval code to a Timeframe.
// Unknown codes are returned as an error so wire decoders can count them
// as parse failures instead of guessing a period.
func ParseTimeframe(code string) (Timeframe, error) {
	tf := Timeframe(code)
	if _, ok := tfDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe code %q: %w", code, ErrInvalidBar)
	}
	return tf, nil
}

// Duration returns the nominal bar period. Zero for unknown codes.
func (tf Timeframe) Duration() time.Duration {
	return tfDurations[tf]
}

// Valid reports whether the timeframe has a known period.
func (tf Timeframe) Valid() bool {
	_, ok := tfDurations[tf]
	return ok
}

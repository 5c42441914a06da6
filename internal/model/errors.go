package model

import "errors"

// Sentinel errors for boundary validation. Transport and parse failures are
// counted in QualityMetrics rather than surfaced as errors (see adapter
// package); these sentinels cover the cases that must fail fast.
var (
	// ErrInvalidBar marks an OHLC envelope violation or malformed wire field.
	ErrInvalidBar = errors.New("invalid bar")

	// ErrInvalidConfig marks a SyncConfig or ReconnectConfig that failed
	// construction-time validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

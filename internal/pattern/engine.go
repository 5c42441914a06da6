package pattern

import (
	"marketcore/internal/indicator"
	"marketcore/internal/model"
)

// Degradation tiers: below minBarsAny nothing runs; below minBarsFull only
// the single/two-bar candlestick detectors run.
const (
	minBarsAny  = 5
	minBarsFull = 20
)

// Config tunes the pattern engine.
type Config struct {
	MinConfidence float64
	Levels        LevelConfig
	Breakout      BreakoutConfig
	Divergence    DivergenceConfig
}

// DefaultConfig returns the engine's shipping calibration.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.3,
		Levels:        DefaultLevelConfig(),
		Breakout:      DefaultBreakoutConfig(),
		Divergence:    DefaultDivergenceConfig(),
	}
}

// Engine runs all pattern detectors over a bar window and collects the hits
// that clear the configured confidence gate.
type Engine struct {
	cfg    Config
	scorer *Scorer
}

// NewEngine creates a pattern engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, scorer: NewScorer()}
}

// Analyze detects patterns over the bars. The indicator set is optional;
// divergence detection is skipped when it is nil or lacks the needed series.
// Detections below MinConfidence are discarded before insertion.
func (e *Engine) Analyze(bars []model.Bar, ind *indicator.Set, tf model.Timeframe) *Collection {
	col := &Collection{Timeframe: tf}
	if len(bars) == 0 {
		return col
	}
	last := bars[len(bars)-1]
	col.Symbol = last.Symbol
	col.TS = last.TS

	if len(bars) < minBarsAny {
		return col
	}

	var hits []Hit
	hits = append(hits, DetectPinBars(bars)...)
	hits = append(hits, DetectEngulfing(bars)...)
	hits = append(hits, DetectDoji(bars)...)

	if len(bars) >= minBarsFull {
		levels := FindLevels(bars, e.cfg.Levels)
		supports, resistances := splitLevelPrices(levels)

		for _, lvl := range levels {
			hit := newHit(TypeSupportResistance, last.Symbol, tf, last.TS, lvl.Price)
			hit.Confidence = lvl.Confidence
			hit.Strength = float64(lvl.Touches)
			if hit.Strength > 10 {
				hit.Strength = 10
			}
			hit.Detail = LevelDetail{Level: lvl}
			hits = append(hits, hit)
		}

		hits = append(hits, DetectBreakouts(bars, levels, e.cfg.Breakout)...)

		if ind != nil {
			hits = append(hits, DetectDivergence(bars, ind.RSI, "RSI", e.cfg.Divergence)...)
			hits = append(hits, DetectDivergence(bars, ind.MACD.MACD, "MACD", e.cfg.Divergence)...)
		}

		for i := range hits {
			hits[i].SupportLevels = supports
			hits[i].ResistanceLevels = resistances
		}
	}

	for i := range hits {
		if hits[i].Confidence < e.cfg.MinConfidence {
			continue
		}
		hits[i].BarsAnalyzed = len(bars)
		hits[i].Lookback = e.cfg.Divergence.Lookback
		col.Hits = append(col.Hits, hits[i])
	}
	return col
}

// Confluence scores a collection's hits as one 0-100 signal strength.
func (e *Engine) Confluence(col *Collection, ctx *MarketContext) float64 {
	return e.scorer.Confluence(col.Hits, ctx)
}

package model

import "sync/atomic"

// QualityMetrics tracks per-adapter data quality counters. Counters are
// atomics so the owning adapter can bump them on the receive hot path while
// the synchronizer reads a consistent-enough snapshot without locking.
// Only the owning adapter writes; everyone else reads.
type QualityMetrics struct {
	total      atomic.Uint64
	parsed     atomic.Uint64
	failed     atomic.Uint64
	duplicates atomic.Uint64
	outOfOrder atomic.Uint64
}

// NewQualityMetrics returns a zeroed counter set.
func NewQualityMetrics() *QualityMetrics { return &QualityMetrics{} }

// QualitySnapshot is a point-in-time read of QualityMetrics with the
// derived rates precomputed.
type QualitySnapshot struct {
	TotalMessages     uint64  `json:"total_messages"`
	ParsedMessages    uint64  `json:"parsed_messages"`
	FailedMessages    uint64  `json:"failed_messages"`
	DuplicateMessages uint64  `json:"duplicate_messages"`
	OutOfOrder        uint64  `json:"out_of_order"`
	ParseSuccessRate  float64 `json:"parse_success_rate"`
	QualityScore      float64 `json:"quality_score"`
}

func (q *QualityMetrics) IncTotal()      { q.total.Add(1) }
func (q *QualityMetrics) IncParsed()     { q.parsed.Add(1) }
func (q *QualityMetrics) IncFailed()     { q.failed.Add(1) }
func (q *QualityMetrics) IncDuplicate()  { q.duplicates.Add(1) }
func (q *QualityMetrics) IncOutOfOrder() { q.outOfOrder.Add(1) }

// Snapshot reads the counters and derives rates.
//
//	parse_success_rate = parsed/total
//	quality_score      = clamp(success - duplicateRate - errorRate, 0, 1)
//
// A metrics object that has seen no messages scores 1.0 so an idle adapter
// does not drag down the aggregate before its first message.
func (q *QualityMetrics) Snapshot() QualitySnapshot {
	snap := QualitySnapshot{
		TotalMessages:     q.total.Load(),
		ParsedMessages:    q.parsed.Load(),
		FailedMessages:    q.failed.Load(),
		DuplicateMessages: q.duplicates.Load(),
		OutOfOrder:        q.outOfOrder.Load(),
	}
	if snap.TotalMessages == 0 {
		snap.ParseSuccessRate = 1.0
		snap.QualityScore = 1.0
		return snap
	}
	total := float64(snap.TotalMessages)
	snap.ParseSuccessRate = float64(snap.ParsedMessages) / total
	dupRate := float64(snap.DuplicateMessages) / total
	errRate := float64(snap.FailedMessages) / total
	score := snap.ParseSuccessRate - dupRate - errRate
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	snap.QualityScore = score
	return snap
}

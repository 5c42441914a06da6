package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualityMetrics_Score(t *testing.T) {
	// 10 total: 8 parsed, 1 failed, 1 duplicate.
	// success = 0.8, dupRate = 0.1, errRate = 0.1 -> score = 0.6
	var q QualityMetrics
	for i := 0; i < 10; i++ {
		q.IncTotal()
	}
	for i := 0; i < 8; i++ {
		q.IncParsed()
	}
	q.IncFailed()
	q.IncDuplicate()

	snap := q.Snapshot()
	assert.Equal(t, uint64(10), snap.TotalMessages)
	assert.InDelta(t, 0.8, snap.ParseSuccessRate, 1e-9)
	assert.InDelta(t, 0.6, snap.QualityScore, 1e-9)
}

func TestQualityMetrics_ScoreClampedAtZero(t *testing.T) {
	// All messages failed: success 0, errRate 1 -> raw score -1, clamped to 0.
	var q QualityMetrics
	for i := 0; i < 5; i++ {
		q.IncTotal()
		q.IncFailed()
	}
	assert.Equal(t, 0.0, q.Snapshot().QualityScore)
}

func TestQualityMetrics_IdleAdapterScoresPerfect(t *testing.T) {
	var q QualityMetrics
	snap := q.Snapshot()
	assert.Equal(t, 1.0, snap.QualityScore)
	assert.Equal(t, 1.0, snap.ParseSuccessRate)
}

// Package datasync synchronizes per-timeframe bar buffers fed by one or more
// market-data adapters, tracks per-timeframe sync status, and exposes
// synchronized snapshots to downstream consumers.
package datasync

import (
	"sync"
	"time"

	"marketcore/internal/model"
)

// Buffer is a fixed-capacity, strictly time-ordered ring of bars for one
// timeframe. Appends must carry a timestamp strictly greater than the last
// stored bar; capacity eviction drops the oldest bar. All methods are safe
// for concurrent use (adapters and the retention sweep share a buffer).
type Buffer struct {
	mu    sync.Mutex
	data  []model.Bar
	head  int // index of the oldest bar
	count int
}

// NewBuffer creates a buffer with the given capacity. Panics on capacity < 1;
// SyncConfig validation rejects that long before a buffer exists.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		panic("datasync: buffer capacity must be >= 1")
	}
	return &Buffer{data: make([]model.Bar, capacity)}
}

// Add appends a bar. Returns false without mutating state when the bar's
// timestamp is not strictly greater than the last stored bar's. When the
// buffer is full the oldest bar is evicted.
func (b *Buffer) Add(bar model.Bar) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count > 0 {
		last := b.data[(b.head+b.count-1)%len(b.data)]
		if !bar.TS.After(last.TS) {
			return false
		}
	}

	if b.count == len(b.data) {
		// Full: overwrite the oldest slot and advance.
		b.data[b.head] = bar
		b.head = (b.head + 1) % len(b.data)
		return true
	}
	b.data[(b.head+b.count)%len(b.data)] = bar
	b.count++
	return true
}

// Len returns the number of stored bars.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Last returns the newest bar, or false when empty.
func (b *Buffer) Last() (model.Bar, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return model.Bar{}, false
	}
	return b.data[(b.head+b.count-1)%len(b.data)], true
}

// Snapshot returns an oldest-first copy of the buffer contents.
func (b *Buffer) Snapshot() []model.Bar {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Bar, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}

// EvictOlderThan drops bars with timestamps before the cutoff and returns
// how many were evicted. Bars are time-ordered, so eviction only ever
// advances the head.
func (b *Buffer) EvictOlderThan(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	evicted := 0
	for b.count > 0 && b.data[b.head].TS.Before(cutoff) {
		b.head = (b.head + 1) % len(b.data)
		b.count--
		evicted++
	}
	return evicted
}

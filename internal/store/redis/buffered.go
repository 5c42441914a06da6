package redis

import (
	"context"
	"log/slog"
	"sync"

	"marketcore/internal/model"
)

const defaultMaxBuffered = 10000

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// breaker is open, bar publishes are queued locally and replayed when
// Redis recovers, so a short outage loses nothing. The queue is bounded;
// overflow drops the oldest entries.
type BufferedPublisher struct {
	pub     *Publisher
	breaker *Breaker
	log     *slog.Logger

	mu      sync.Mutex
	pending []model.Bar
	maxBuf  int

	// Metrics hooks, optional.
	OnBuffered func()
	OnFlushed  func(count int)
}

// NewBufferedPublisher wires the breaker's close transition to a flush of
// the pending queue.
func NewBufferedPublisher(pub *Publisher, breaker *Breaker, maxBuffered int) *BufferedPublisher {
	if maxBuffered <= 0 {
		maxBuffered = defaultMaxBuffered
	}
	bp := &BufferedPublisher{
		pub:     pub,
		breaker: breaker,
		log:     pub.log,
		pending: make([]model.Bar, 0, 256),
		maxBuf:  maxBuffered,
	}

	prev := breaker.OnStateChange
	breaker.OnStateChange = func(from, to BreakerState) {
		if prev != nil {
			prev(from, to)
		}
		if to == BreakerClosed {
			go bp.flush(context.Background())
		}
	}
	return bp
}

// PublishBar publishes through the breaker, queueing the bar instead when
// the breaker is open.
func (bp *BufferedPublisher) PublishBar(ctx context.Context, bar model.Bar) error {
	err := bp.breaker.Execute(func() error {
		return bp.pub.PublishBar(ctx, bar)
	})
	if err == ErrBreakerOpen {
		bp.enqueue(bar)
		return nil
	}
	return err
}

// PendingCount returns the number of queued bars awaiting replay.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pending)
}

// Underlying returns the wrapped Publisher.
func (bp *BufferedPublisher) Underlying() *Publisher { return bp.pub }

func (bp *BufferedPublisher) enqueue(bar model.Bar) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if len(bp.pending) >= bp.maxBuf {
		bp.pending = bp.pending[1:]
	}
	bp.pending = append(bp.pending, bar)
	if bp.OnBuffered != nil {
		bp.OnBuffered()
	}
}

func (bp *BufferedPublisher) flush(ctx context.Context) {
	bp.mu.Lock()
	if len(bp.pending) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.pending
	bp.pending = make([]model.Bar, 0, 256)
	bp.mu.Unlock()

	for _, bar := range toFlush {
		bp.pub.PublishBar(ctx, bar)
	}
	bp.log.Info("replayed buffered bars", "count", len(toFlush))
	if bp.OnFlushed != nil {
		bp.OnFlushed(len(toFlush))
	}
}

// Package adapter connects to market-data providers and normalizes their
// kline feeds into model.Bar values. Two variants exist: a WebSocket
// streaming adapter and a REST polling/backfill adapter. Both track
// data-quality counters and fan incoming bars out to registered callbacks.
package adapter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"marketcore/internal/model"
)

// State is the adapter connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrHistoricalUnsupported is returned by adapters that have no historical
// endpoint configured.
var ErrHistoricalUnsupported = errors.New("adapter: historical fetch not supported")

// BarCallback receives every accepted bar. Callbacks run on the adapter's
// read goroutine; a panicking callback is recovered and logged and never
// takes down the connection or the remaining callbacks.
type BarCallback func(model.Bar)

// Adapter is the capability surface shared by the WebSocket and REST
// variants.
type Adapter interface {
	// Connect establishes the provider connection and starts delivery.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down and stops delivery.
	Disconnect() error
	// FetchHistorical returns up to limit bars for the timeframe, oldest
	// first.
	FetchHistorical(ctx context.Context, tf model.Timeframe, limit int) ([]model.Bar, error)
	// AddCallback registers fn and returns an id for RemoveCallback.
	AddCallback(fn BarCallback) int
	// RemoveCallback unregisters a callback; unknown ids are a no-op.
	RemoveCallback(id int)
	// State reports the connection state.
	State() State
	// Quality returns a point-in-time data-quality snapshot.
	Quality() model.QualitySnapshot
}

// callbackSet is the shared registry behind AddCallback/RemoveCallback.
type callbackSet struct {
	mu   sync.RWMutex
	next int
	fns  map[int]BarCallback
}

func (c *callbackSet) add(fn BarCallback) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fns == nil {
		c.fns = make(map[int]BarCallback)
	}
	id := c.next
	c.next++
	c.fns[id] = fn
	return id
}

func (c *callbackSet) remove(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fns, id)
}

// fanOut invokes every registered callback with the bar, isolating panics
// so one faulty consumer cannot starve the rest.
func (c *callbackSet) fanOut(log *slog.Logger, bar model.Bar) {
	c.mu.RLock()
	fns := make([]BarCallback, 0, len(c.fns))
	for _, fn := range c.fns {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("bar callback panicked", "symbol", bar.Symbol, "tf", bar.Timeframe, "panic", r)
				}
			}()
			fn(bar)
		}()
	}
}

// stateCell is an atomically readable connection state with an optional
// transition hook for metrics.
type stateCell struct {
	v    atomic.Int32
	hook func(old, new State)
}

func (s *stateCell) get() State { return State(s.v.Load()) }

func (s *stateCell) set(next State) {
	old := State(s.v.Swap(int32(next)))
	if s.hook != nil && old != next {
		s.hook(old, next)
	}
}

package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketcore/internal/model"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	if b.State() != BreakerClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.State() != BreakerOpen {
		t.Errorf("expected open after 3 failures, got %v", b.State())
	}

	if err := b.Execute(func() error { return nil }); err != ErrBreakerOpen {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed after successful probe, got %v", b.State())
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := NewBreaker(2, 50*time.Millisecond)
	errFail := errors.New("fail")
	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}

	time.Sleep(60 * time.Millisecond)
	b.Execute(func() error { return errFail })

	if b.State() != BreakerOpen {
		t.Errorf("expected open after failed probe, got %v", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	errFail := errors.New("fail")

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return nil })

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	if b.State() != BreakerClosed {
		t.Errorf("expected closed (counter reset by success), got %v", b.State())
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []BreakerState
	b := NewBreaker(1, 50*time.Millisecond)
	b.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, to)
	}

	b.Execute(func() error { return errors.New("fail") })
	if len(transitions) != 1 || transitions[0] != BreakerOpen {
		t.Errorf("expected [open], got %v", transitions)
	}

	time.Sleep(60 * time.Millisecond)
	b.Execute(func() error { return nil })

	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[1] != BreakerHalfOpen || transitions[2] != BreakerClosed {
		t.Errorf("expected [open, half-open, closed], got %v", transitions)
	}
}

func TestBufferedPublisher_QueuesWhileOpen(t *testing.T) {
	b := NewBreaker(1, time.Hour)
	pub := &Publisher{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	bp := NewBufferedPublisher(pub, b, 2)

	// Trip the breaker; wrapped publishes must queue instead of failing.
	b.Execute(func() error { return errors.New("redis down") })

	p := decimal.NewFromInt(100)
	mk := func(min int) model.Bar {
		bar, err := model.NewBar("BTCUSDT", model.TF1m,
			time.Date(2024, 1, 1, 0, min, 0, 0, time.UTC), p, p, p, p, decimal.NewFromInt(1))
		if err != nil {
			t.Fatal(err)
		}
		return bar
	}

	for i := 0; i < 3; i++ {
		if err := bp.PublishBar(context.Background(), mk(i)); err != nil {
			t.Fatalf("open-breaker publish should queue, got %v", err)
		}
	}

	if got := bp.PendingCount(); got != 2 {
		t.Errorf("expected bounded queue of 2 (oldest dropped), got %d", got)
	}
}

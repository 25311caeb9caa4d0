package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errOutage = NewTransientError(errors.New("connection refused"), 0)

func tripBreaker(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Do(context.Background(), func(_ context.Context) error { return errOutage })
	}
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "store"})

	calls := 0
	err := b.Do(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "store", FailureThreshold: 3, Cooldown: time.Minute})
	tripBreaker(b, 3)

	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	err := b.Do(context.Background(), func(_ context.Context) error {
		t.Error("guarded function must not run while open")
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if !IsUnavailable(err) {
		t.Error("ErrOpen should be reported as unavailable")
	}
}

func TestBreaker_DomainErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "store", FailureThreshold: 2})
	notFound := errors.New("store: not found")

	for i := 0; i < 5; i++ {
		_ = b.Do(context.Background(), func(_ context.Context) error { return notFound })
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after domain errors, got %s", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("expected 0 failures, got %d", b.Failures())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3})
	tripBreaker(b, 2)
	_ = b.Do(context.Background(), func(_ context.Context) error { return nil })
	tripBreaker(b, 2)

	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if b.Failures() != 2 {
		t.Errorf("expected 2 failures, got %d", b.Failures())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Second})
	b.now = func() time.Time { return now }
	tripBreaker(b, 1)

	now = now.Add(11 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", b.State())
	}

	// Probe succeeds and closes the breaker.
	if err := b.Do(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Second})
	b.now = func() time.Time { return now }
	tripBreaker(b, 1)

	now = now.Add(11 * time.Second)
	tripBreaker(b, 1)

	if b.State() != StateOpen {
		t.Errorf("expected open after failed probe, got %s", b.State())
	}
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	b.now = func() time.Time { return now }
	tripBreaker(b, 1)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Do(context.Background(), func(_ context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Do(context.Background(), func(_ context.Context) error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while probe in flight, got %v", err)
	}
	close(release)
	wg.Wait()
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestGuard_ReturnsValue(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	v, err := Guard(context.Background(), b, func(_ context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Errorf("got %d, %v", v, err)
	}

	b = NewBreaker(BreakerConfig{FailureThreshold: 1})
	tripBreaker(b, 1)
	v, err = Guard(context.Background(), b, func(_ context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrOpen) || v != 0 {
		t.Errorf("expected zero value and ErrOpen, got %d, %v", v, err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

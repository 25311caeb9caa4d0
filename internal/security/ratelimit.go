package security

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key within a window. Parameters are passed
// on every call so live setting changes take effect without a restart.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

// MemoryLimiter is a process-local sliding-window log. With several server
// processes each enforces its own limit.
type MemoryLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
	// longest window seen, used by Sweep to decide staleness.
	window time.Duration
}

// NewMemoryLimiter returns an empty limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	if max <= 0 || window <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if window > l.window {
		l.window = window
	}

	hits := prune(l.hits[key], now, window)
	if len(hits) >= max {
		l.hits[key] = hits
		return Decision{RetryAfter: hits[0].Add(window).Sub(now)}, nil
	}
	hits = append(hits, now)
	l.hits[key] = hits
	return Decision{Allowed: true, Remaining: max - len(hits)}, nil
}

// prune drops timestamps that fell out of the window ending at now.
func prune(hits []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(hits) && now.Sub(hits[i]) >= window {
		i++
	}
	return hits[i:]
}

// Sweep deletes keys with no hits inside the longest window seen and
// returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, hits := range l.hits {
		if len(prune(hits, now, l.window)) == 0 {
			delete(l.hits, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// RunSweeper calls Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s interface{ Sweep() int }, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				zap.L().Debug("security: swept stale rate-limit entries", zap.Int("removed", n))
			}
		}
	}
}

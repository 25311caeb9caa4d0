package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	max      int
	window   time.Duration
	lastSeen time.Time
}

// BucketLimiter is a process-local token bucket per key: max tokens that
// refill evenly over window. It smooths bursts instead of admitting max
// requests back to back at the window edge.
type BucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	idle    time.Duration
}

// NewBucketLimiter returns a limiter whose untouched buckets are swept after idle.
func NewBucketLimiter(idle time.Duration) *BucketLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &BucketLimiter{buckets: make(map[string]*bucket), now: time.Now, idle: idle}
}

func (l *BucketLimiter) Allow(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	if max <= 0 || window <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || b.max != max || b.window != window {
		every := rate.Every(window / time.Duration(max))
		b = &bucket{lim: rate.NewLimiter(every, max), max: max, window: window}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if b.lim.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: int(b.lim.TokensAt(now))}, nil
	}
	r := b.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return Decision{RetryAfter: wait}, nil
}

// Sweep drops buckets idle for longer than the configured idle period.
func (l *BucketLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/usage"
)

// MetricsSnapshot holds a point-in-time view of pool health.
type MetricsSnapshot struct {
	// Store reachability. When false the counters below are zero.
	StoreReachable bool   `json:"store_reachable"`
	StoreError     string `json:"store_error,omitempty"`

	// Item counts.
	Items          model.StatusCounts `json:"items"`
	Pending        int                `json:"pending"`
	Leased         int                `json:"leased"`
	Resolved       int                `json:"resolved"`
	StrandedLeases int                `json:"stranded_leases"`

	// Sessions.
	RunningSessions int `json:"running_sessions"`

	// Reports per caller/device for the current UTC day.
	UsageToday map[string]int64 `json:"usage_today,omitempty"`
	UsageTotal int64            `json:"usage_total"`

	// Metadata.
	StrandedAgeMins int       `json:"stranded_age_mins"`
	CollectedAt     time.Time `json:"collected_at"`
}

// StatsSource is the part of the item store the collector reads.
type StatsSource interface {
	Ping(ctx context.Context) error
	CountItems(ctx context.Context) (model.StatusCounts, error)
	CountStrandedLeases(ctx context.Context, leasedBefore time.Time) (int, error)
	CountSessions(ctx context.Context, status model.SessionStatus) (int, error)
}

// Collector gathers metrics from the store and usage counters.
type Collector struct {
	store           StatsSource
	usage           usage.Recorder
	strandedAgeMins int
	now             func() time.Time
}

// NewCollector creates a new metrics collector. Leases older than
// strandedAgeMins count as stranded; usage may be nil.
func NewCollector(st StatsSource, rec usage.Recorder, strandedAgeMins int) *Collector {
	if strandedAgeMins <= 0 {
		strandedAgeMins = 60
	}
	return &Collector{store: st, usage: rec, strandedAgeMins: strandedAgeMins, now: time.Now}
}

// Collect gathers a snapshot. An unreachable store is reported in the
// snapshot rather than as an error so it can be alerted on.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		StrandedAgeMins: c.strandedAgeMins,
		CollectedAt:     now,
	}

	if err := c.store.Ping(ctx); err != nil {
		snap.StoreError = err.Error()
		return snap, nil
	}
	snap.StoreReachable = true

	counts, err := c.store.CountItems(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count items")
	}
	snap.Items = counts
	snap.Pending = counts[model.ItemStatusPending]
	snap.Leased = counts[model.ItemStatusLeased]
	snap.Resolved = counts.Total() - counts.Unresolved()

	cutoff := now.Add(-time.Duration(c.strandedAgeMins) * time.Minute)
	if snap.StrandedLeases, err = c.store.CountStrandedLeases(ctx, cutoff); err != nil {
		return nil, eris.Wrap(err, "monitoring: count stranded leases")
	}
	if snap.RunningSessions, err = c.store.CountSessions(ctx, model.SessionStatusRunning); err != nil {
		return nil, eris.Wrap(err, "monitoring: count running sessions")
	}

	if c.usage != nil {
		day, err := c.usage.Day(ctx, now)
		if err != nil {
			zap.L().Warn("monitoring: read usage counters", zap.Error(err))
		} else {
			snap.UsageToday = day
			for _, n := range day {
				snap.UsageTotal += n
			}
		}
	}

	return snap, nil
}

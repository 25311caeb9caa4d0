package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/usage"
)

// mockStats implements StatsSource for testing.
type mockStats struct {
	pingErr    error
	counts     model.StatusCounts
	countErr   error
	stranded   int
	cutoff     time.Time
	running    int
	sessionErr error
}

func (m *mockStats) Ping(context.Context) error { return m.pingErr }

func (m *mockStats) CountItems(context.Context) (model.StatusCounts, error) {
	return m.counts, m.countErr
}

func (m *mockStats) CountStrandedLeases(_ context.Context, before time.Time) (int, error) {
	m.cutoff = before
	return m.stranded, nil
}

func (m *mockStats) CountSessions(_ context.Context, status model.SessionStatus) (int, error) {
	if status != model.SessionStatusRunning {
		return 0, nil
	}
	return m.running, m.sessionErr
}

type failingRecorder struct{}

func (failingRecorder) Incr(context.Context, string, string, time.Time) error { return nil }
func (failingRecorder) Day(context.Context, time.Time) (map[string]int64, error) {
	return nil, errors.New("redis down")
}

func TestCollector_Collect(t *testing.T) {
	st := &mockStats{
		counts: model.StatusCounts{
			model.ItemStatusPending:         12,
			model.ItemStatusLeased:          3,
			model.ItemStatusResolvedSuccess: 5,
			model.ItemStatusResolvedFailure: 2,
		},
		stranded: 1,
		running:  2,
	}
	rec := usage.NewMemoryRecorder()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Incr(context.Background(), "w1", "d1", now))
	require.NoError(t, rec.Incr(context.Background(), "w1", "d1", now))
	require.NoError(t, rec.Incr(context.Background(), "w2", "", now))

	c := NewCollector(st, rec, 30)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.StoreReachable)
	assert.Equal(t, 12, snap.Pending)
	assert.Equal(t, 3, snap.Leased)
	assert.Equal(t, 7, snap.Resolved)
	assert.Equal(t, 1, snap.StrandedLeases)
	assert.Equal(t, 2, snap.RunningSessions)
	assert.Equal(t, int64(3), snap.UsageTotal)
	assert.Equal(t, int64(2), snap.UsageToday["w1/d1"])
	assert.Equal(t, now.Add(-30*time.Minute), st.cutoff)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_StoreUnreachable(t *testing.T) {
	st := &mockStats{pingErr: errors.New("dial tcp: connection refused")}
	snap, err := NewCollector(st, nil, 0).Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.StoreReachable)
	assert.Contains(t, snap.StoreError, "connection refused")
	assert.Equal(t, 60, snap.StrandedAgeMins)
}

func TestCollector_CountError(t *testing.T) {
	st := &mockStats{countErr: errors.New("boom")}
	_, err := NewCollector(st, nil, 0).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count items")
}

func TestCollector_SessionError(t *testing.T) {
	st := &mockStats{counts: model.StatusCounts{}, sessionErr: errors.New("boom")}
	_, err := NewCollector(st, nil, 0).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count running sessions")
}

func TestCollector_UsageErrorIgnored(t *testing.T) {
	st := &mockStats{counts: model.StatusCounts{model.ItemStatusPending: 1}}
	snap, err := NewCollector(st, failingRecorder{}, 0).Collect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.UsageToday)
	assert.Zero(t, snap.UsageTotal)
	assert.Equal(t, 1, snap.Pending)
}

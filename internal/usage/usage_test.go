package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseRecorder checks per-caller/device counting and the UTC day boundary.
func exerciseRecorder(t *testing.T, r Recorder) {
	t.Helper()
	ctx := context.Background()
	// 23:30 in UTC-5 is already the next UTC day.
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2026, 3, 1, 23, 30, 0, 0, est)
	early := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

	require.NoError(t, r.Incr(ctx, "worker-1", "dev-a", late))
	require.NoError(t, r.Incr(ctx, "worker-1", "dev-a", early))
	require.NoError(t, r.Incr(ctx, "worker-1", "", early))
	require.NoError(t, r.Incr(ctx, "worker-2", "dev-b", early.Add(-2*time.Hour)))

	day, err := r.Day(ctx, early)
	require.NoError(t, err)
	assert.Equal(t, int64(2), day["worker-1/dev-a"])
	assert.Equal(t, int64(1), day["worker-1/-"])
	assert.NotContains(t, day, "worker-2/dev-b")

	prev, err := r.Day(ctx, early.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"worker-2/dev-b": 1}, prev)
}

func TestMemoryRecorder(t *testing.T) {
	exerciseRecorder(t, NewMemoryRecorder())
}

func TestRedisRecorder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	exerciseRecorder(t, NewRedisRecorder(client, "test:"))
	assert.True(t, mr.Exists("test:usage:2026-03-02"))
	assert.Equal(t, retention, mr.TTL("test:usage:2026-03-02"))
}

func TestRedisRecorder_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	mr.Close()

	err := NewRedisRecorder(client, "test:").Incr(context.Background(), "w", "d", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: redis incr")
}

func TestFieldRoundTrip(t *testing.T) {
	caller, device := SplitField(Field("worker-1", "dev/a"))
	assert.Equal(t, "worker-1", caller)
	assert.Equal(t, "dev/a", device)
}

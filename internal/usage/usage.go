// Package usage counts reports per caller and device for each UTC day.
package usage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DayLayout formats the UTC day component of counter keys.
const DayLayout = "2006-01-02"

// Recorder increments and reads per-day usage counters.
type Recorder interface {
	Incr(ctx context.Context, caller, device string, at time.Time) error
	// Day returns counts keyed by "caller/device" for the UTC day containing day.
	Day(ctx context.Context, day time.Time) (map[string]int64, error)
}

// Field joins caller and device into a counter field name.
func Field(caller, device string) string {
	if device == "" {
		device = "-"
	}
	return caller + "/" + device
}

// SplitField reverses Field.
func SplitField(field string) (caller, device string) {
	caller, device, _ = strings.Cut(field, "/")
	return caller, device
}

func dayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// MemoryRecorder keeps counters in process memory. Counts are per process
// when several servers run.
type MemoryRecorder struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{counts: make(map[string]map[string]int64)}
}

func (m *MemoryRecorder) Incr(_ context.Context, caller, device string, at time.Time) error {
	day := dayKey(at)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[day] == nil {
		m.counts[day] = make(map[string]int64)
	}
	m.counts[day][Field(caller, device)]++
	return nil
}

func (m *MemoryRecorder) Day(_ context.Context, day time.Time) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counts[dayKey(day)]))
	for k, v := range m.counts[dayKey(day)] {
		out[k] = v
	}
	return out, nil
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
)

type fakeWriter struct {
	msgs   []kafka.Message
	errs   []error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func resolvedItem() *model.WorkItem {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.WorkItem{
		ID:         "item-1",
		OwnerID:    "u1",
		SessionID:  "s1",
		CheckType:  2,
		Status:     model.ItemStatusResolvedFailure,
		Source:     model.CheckSourceManual,
		Price:      0.25,
		Metadata:   model.ItemMetadata{Origin: "US"},
		ResolvedAt: &at,
	}
}

func TestKafkaPublisher_PublishResolved(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)

	ev := NewItemResolved(resolvedItem(), "worker-1", "dev-a")
	require.NoError(t, p.PublishResolved(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "item-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeItemResolved, string(msg.Headers[0].Value))

	var got ItemResolved
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, TypeItemResolved, got.Type)
	assert.Equal(t, model.ItemStatusResolvedFailure, got.Status)
	assert.Equal(t, "worker-1", got.Caller)
	assert.Equal(t, "dev-a", got.Device)
	assert.Equal(t, "US", got.Metadata.Origin)
	assert.True(t, got.ResolvedAt.Equal(*resolvedItem().ResolvedAt))
}

func TestKafkaPublisher_RetriesTransient(t *testing.T) {
	w := &fakeWriter{errs: []error{errors.New("i/o timeout")}}
	p := NewKafkaPublisherWithWriter(w)
	p.backoff = resilience.Backoff{Attempts: 2, Initial: time.Millisecond}

	require.NoError(t, p.PublishResolved(context.Background(), NewItemResolved(resolvedItem(), "w", "")))
	assert.Len(t, w.msgs, 1)
}

func TestKafkaPublisher_PermanentError(t *testing.T) {
	w := &fakeWriter{errs: []error{errors.New("topic authorization failed")}}
	p := NewKafkaPublisherWithWriter(w)

	err := p.PublishResolved(context.Background(), NewItemResolved(resolvedItem(), "w", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events: write item.resolved")
	assert.Empty(t, w.msgs)
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafkaPublisherWithWriter(w).Close())
	assert.True(t, w.closed)
}

func TestNewItemResolved_Unresolved(t *testing.T) {
	ev := NewItemResolved(&model.WorkItem{ID: "x"}, "w", "d")
	assert.True(t, ev.ResolvedAt.IsZero())
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.PublishResolved(context.Background(), ItemResolved{}))
	assert.NoError(t, p.Close())
}

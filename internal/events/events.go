// Package events publishes item lifecycle events for downstream consumers
// such as billing and reporting.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
)

// TypeItemResolved is emitted after a report moves an item to a resolved status.
const TypeItemResolved = "item.resolved"

// ItemResolved is the payload of an item.resolved event.
type ItemResolved struct {
	Type       string             `json:"type"`
	ItemID     string             `json:"item_id"`
	OwnerID    string             `json:"owner_id"`
	SessionID  string             `json:"session_id,omitempty"`
	CheckType  int                `json:"check_type"`
	Status     model.ItemStatus   `json:"status"`
	Source     model.CheckSource  `json:"source"`
	Price      float64            `json:"price"`
	Caller     string             `json:"caller"`
	Device     string             `json:"device,omitempty"`
	Metadata   model.ItemMetadata `json:"metadata"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// NewItemResolved builds the event for a resolved item.
func NewItemResolved(it *model.WorkItem, caller, device string) ItemResolved {
	ev := ItemResolved{
		Type:      TypeItemResolved,
		ItemID:    it.ID,
		OwnerID:   it.OwnerID,
		SessionID: it.SessionID,
		CheckType: it.CheckType,
		Status:    it.Status,
		Source:    it.Source,
		Price:     it.Price,
		Caller:    caller,
		Device:    device,
		Metadata:  it.Metadata,
	}
	if it.ResolvedAt != nil {
		ev.ResolvedAt = *it.ResolvedAt
	}
	return ev
}

// Publisher emits events.
type Publisher interface {
	PublishResolved(ctx context.Context, ev ItemResolved) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by item id.
type KafkaPublisher struct {
	writer  messageWriter
	backoff resilience.Backoff
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: false,
	})
}

// NewKafkaPublisherWithWriter builds a publisher using a custom writer (tests).
func NewKafkaPublisherWithWriter(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, backoff: resilience.DefaultBackoff("events: publish")}
}

func (p *KafkaPublisher) PublishResolved(ctx context.Context, ev ItemResolved) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: encode item.resolved")
	}
	msg := kafka.Message{
		Key:   []byte(ev.ItemID),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	err = resilience.Retry(ctx, p.backoff, func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, msg)
	})
	return eris.Wrap(err, "events: write item.resolved")
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop discards events. Used when no brokers are configured.
type Noop struct{}

func (Noop) PublishResolved(context.Context, ItemResolved) error { return nil }

func (Noop) Close() error { return nil }

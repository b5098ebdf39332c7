package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/acme/voice-campaign-control/internal/domain"
)

// CallEvent is the terminal call record fanned out to downstream consumers
// (analytics, billing export). Keyed by the engine call id so replays of the
// same call land in the same partition.
type CallEvent struct {
	EngineCallID  string                   `json:"engine_call_id"`
	UserID        uuid.UUID                `json:"user_id"`
	CampaignID    uuid.UUID                `json:"campaign_id"`
	ContactID     uuid.UUID                `json:"contact_id"`
	Status        domain.CallHistoryStatus `json:"status"`
	EndReason     string                   `json:"end_reason"`
	Duration      int                      `json:"duration_seconds"`
	BilledSeconds int                      `json:"billed_seconds"`
	Source        string                   `json:"source"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

// CallEventPublisher writes terminal call events to Kafka.
type CallEventPublisher struct {
	writer *kafka.Writer
}

// NewCallEventPublisher creates a publisher on the call-events topic.
func NewCallEventPublisher(k *Kafka, topic string) *CallEventPublisher {
	return &CallEventPublisher{writer: k.NewWriter(topic)}
}

// PublishCallEvent emits one terminal call event. Failures are the caller's
// to log; event delivery never blocks call bookkeeping.
func (p *CallEventPublisher) PublishCallEvent(ctx context.Context, ev CallEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: marshal call event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.EngineCallID),
		Value: value,
		Time:  ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("queue: publish call event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *CallEventPublisher) Close() error {
	return p.writer.Close()
}

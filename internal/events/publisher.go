// Package events publishes refresh lifecycle notifications so downstream
// consumers (site rebuild hooks, analytics) learn when the cache changed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/renalworks/publications-pipeline/internal/domain"
)

// EventRefreshCompleted is the event type emitted after a refresh run.
const EventRefreshCompleted = "publications.refresh.completed"

// RefreshCompletedEvent is the payload published after a refresh run.
type RefreshCompletedEvent struct {
	Type       string              `json:"type"`
	OccurredAt time.Time           `json:"occurred_at"`
	Stats      domain.RefreshStats `json:"stats"`
}

// Publisher emits refresh lifecycle events.
type Publisher interface {
	// PublishRefreshCompleted publishes the outcome of one refresh run.
	PublishRefreshCompleted(ctx context.Context, stats domain.RefreshStats) error

	// Close releases publisher resources.
	Close() error
}

// KafkaPublisher implements Publisher on a Kafka topic, keyed by run ID so
// per-run events land in a consistent partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to the given brokers and
// topic.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "events").Str("topic", topic).Logger(),
	}
}

// PublishRefreshCompleted publishes the outcome of one refresh run.
func (p *KafkaPublisher) PublishRefreshCompleted(ctx context.Context, stats domain.RefreshStats) error {
	event := RefreshCompletedEvent{
		Type:       EventRefreshCompleted,
		OccurredAt: time.Now().UTC(),
		Stats:      stats,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode refresh event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(stats.RunID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventRefreshCompleted)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish refresh event: %w", err)
	}

	p.logger.Debug().Str("run_id", stats.RunID).Msg("published refresh completed event")
	return nil
}

// Close releases publisher resources.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher implements Publisher as a no-op for runs without Kafka
// configured.
type NopPublisher struct{}

var _ Publisher = (*NopPublisher)(nil)

// NewNopPublisher creates a publisher that drops all events.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// PublishRefreshCompleted drops the event.
func (p *NopPublisher) PublishRefreshCompleted(context.Context, domain.RefreshStats) error {
	return nil
}

// Close is a no-op.
func (p *NopPublisher) Close() error {
	return nil
}

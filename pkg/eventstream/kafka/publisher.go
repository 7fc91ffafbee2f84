// Package kafka publishes journal events to a Kafka topic, keyed by user so
// one user's events stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kgo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/eventstream"
)

const (
	// DefaultTopic is the default Kafka topic for journal events.
	DefaultTopic = "murmur.events"
)

// Publisher implements eventstream.Publisher on a Kafka writer.
type Publisher struct {
	writer *kgo.Writer
	logger *zap.Logger
}

// Config holds configuration for the Kafka publisher.
type Config struct {
	// Brokers is the list of bootstrap broker addresses. Required.
	Brokers []string

	// Topic defaults to DefaultTopic if empty.
	Topic string
}

// NewPublisher creates a Kafka-backed eventstream publisher.
func NewPublisher(c Config, logger *zap.Logger) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	topic := c.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	writer := &kgo.Writer{
		Addr:     kgo.TCP(c.Brokers...),
		Topic:    topic,
		Balancer: &kgo.Hash{},
	}

	logger.Info("kafka eventstream publisher initialized",
		zap.Strings("brokers", c.Brokers),
		zap.String("topic", topic),
	)

	return &Publisher{
		writer: writer,
		logger: logger,
	}, nil
}

func (p *Publisher) publish(ctx context.Context, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kgo.Message{
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// PublishEntryIngested publishes an entry-ingested event keyed by user.
func (p *Publisher) PublishEntryIngested(ctx context.Context, event *eventstream.EntryIngestedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.Entry.UserID, event)
}

// PublishEntryDeleted publishes an entry-deleted event keyed by user.
func (p *Publisher) PublishEntryDeleted(ctx context.Context, event *eventstream.EntryDeletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.UserID, event)
}

// PublishArtifactGenerated publishes an artifact-generated event keyed by user.
func (p *Publisher) PublishArtifactGenerated(ctx context.Context, event *eventstream.ArtifactGeneratedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.Artifact.UserID, event)
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

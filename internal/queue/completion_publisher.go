package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// CompletionPublisher publishes provider completion events.
type CompletionPublisher struct {
	writer *kafka.Writer
}

// NewCompletionPublisher constructs a publisher for the given topic.
func NewCompletionPublisher(k *Kafka, topic string) *CompletionPublisher {
	return &CompletionPublisher{writer: k.NewWriter(topic)}
}

// PublishCompletion emits a completion message to Kafka, keyed by the
// external call id so events for one call stay in one partition.
func (p *CompletionPublisher) PublishCompletion(ctx context.Context, msg CompletionMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("completion publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(msg.ExternalCallID),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("completion publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *CompletionPublisher) Close() error {
	return p.writer.Close()
}

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DeadLetterPublisher forwards events the reconciler could not parse.
// A bad event must never block the pipeline for unrelated entries, so it
// is parked here with the failure reason attached for later inspection.
type DeadLetterPublisher struct {
	writer *kafka.Writer
}

// NewDeadLetterPublisher constructs a publisher for the dead letter topic.
func NewDeadLetterPublisher(k *Kafka, topic string) *DeadLetterPublisher {
	if topic == "" {
		return nil
	}
	return &DeadLetterPublisher{writer: k.NewWriter(topic)}
}

// Publish parks the raw payload on the dead letter topic.
func (p *DeadLetterPublisher) Publish(ctx context.Context, key []byte, payload []byte, reason string) error {
	record := kafka.Message{
		Key:   key,
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(reason)},
		},
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("dead letter publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *DeadLetterPublisher) Close() error {
	return p.writer.Close()
}

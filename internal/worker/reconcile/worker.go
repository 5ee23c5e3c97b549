// Package reconcile hosts the worker that consumes provider completion
// events and folds them into queue state.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/lead-call-queue/internal/app"
	"github.com/acme/lead-call-queue/internal/queue"
)

// Worker consumes completion events and drives the reconciler.
type Worker struct {
	container *app.Container
}

// New creates a new reconcile worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes completion events until the context is cancelled.
// Malformed payloads are parked on the dead letter topic and committed
// so they never wedge the partition.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-reconcile"
	reader := w.container.Kafka.NewReader(cfg.Kafka.CompletionTopic, groupID)
	defer reader.Close()

	rec := w.container.Reconciler()
	deadLetter := w.container.DeadLetter()
	logger := w.container.Logger

	tracer := otel.Tracer("leadq.reconcileworker")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("reconcile worker: fetch", zap.Error(err))
			continue
		}

		var event queue.CompletionMessage
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("reconcile worker: unmarshal", zap.Error(err))
			if deadLetter != nil {
				if dlErr := deadLetter.Publish(ctx, msg.Key, msg.Value, "unmarshal: "+err.Error()); dlErr != nil {
					logger.Error("reconcile worker: dead letter", zap.Error(dlErr))
				}
			}
			_ = reader.CommitMessages(ctx, msg)
			continue
		}
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = time.Now().UTC()
		}

		sctx, span := tracer.Start(ctx, "call.reconcile")
		span.SetAttributes(
			attribute.String("external_call.id", event.ExternalCallID),
			attribute.String("event.status", event.Status),
		)

		if err := rec.Reconcile(sctx, event); err != nil {
			// Transient infrastructure failure; leave the message
			// uncommitted so it is redelivered.
			span.RecordError(err)
			span.End()
			logger.Error("reconcile worker: reconcile", zap.Error(err),
				zap.String("external_call_id", event.ExternalCallID))
			continue
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("reconcile worker: commit", zap.Error(err))
		}
		span.End()
	}
}

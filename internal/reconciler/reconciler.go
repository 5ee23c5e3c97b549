// Package reconciler folds asynchronous provider completion events back
// into queue entries, call records, and lead scores.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/queue"
	"github.com/acme/lead-call-queue/internal/repository"
	apperrors "github.com/acme/lead-call-queue/pkg/errors"
	"github.com/acme/lead-call-queue/pkg/logger"
)

// callRecordNamespace seeds the deterministic call-record id derived from
// the queue entry id.
var callRecordNamespace = uuid.MustParse("5f2b9d0a-63c4-4d3e-9c1a-8e7f0b4d2a91")

// SlotReleaser frees a per-agent concurrency slot once a call finishes.
type SlotReleaser interface {
	Release(ctx context.Context, agentID uuid.UUID) error
}

// Reconciler consumes completion events exactly once per queue entry.
type Reconciler struct {
	queue      repository.QueueRepository
	leads      repository.LeadStore
	records    repository.CallRecordStore
	classifier OutcomeClassifier
	scores     ScorePolicy
	backoff    *Backoff
	slots      SlotReleaser
	logger     *logger.Logger
	now        func() time.Time
}

// New builds a reconciler. slots may be nil when no concurrency limiter
// is in use.
func New(
	queueRepo repository.QueueRepository,
	leads repository.LeadStore,
	records repository.CallRecordStore,
	classifier OutcomeClassifier,
	scores ScorePolicy,
	backoff *Backoff,
	slots SlotReleaser,
	lg *logger.Logger,
) *Reconciler {
	return &Reconciler{
		queue:      queueRepo,
		leads:      leads,
		records:    records,
		classifier: classifier,
		scores:     scores,
		backoff:    backoff,
		slots:      slots,
		logger:     lg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile applies one completion event. Unknown correlation ids and
// duplicate events are absorbed without error: the external system is
// never blocked on internal state.
func (r *Reconciler) Reconcile(ctx context.Context, msg queue.CompletionMessage) error {
	if msg.ExternalCallID == "" {
		r.logger.Warn("reconciler: event without external call id dropped")
		return nil
	}

	entry, err := r.queue.GetByExternalCallID(ctx, msg.ExternalCallID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			r.logger.Info("reconciler: no entry for external call id, event dropped",
				zap.String("external_call_id", msg.ExternalCallID))
			return nil
		}
		return fmt.Errorf("reconciler: lookup entry: %w", err)
	}

	if entry.IsTerminal() {
		// Duplicate delivery; keep the audit payload fresh, change nothing else.
		if err := r.queue.RecordWebhookData(ctx, entry.ID, msg.Raw); err != nil {
			r.logger.Warn("reconciler: record duplicate webhook data", zap.Error(err))
		}
		r.logger.Info("reconciler: duplicate event for terminal entry ignored",
			zap.String("entry_id", entry.ID.String()),
			zap.String("external_call_id", msg.ExternalCallID))
		return nil
	}

	switch classifyEventStatus(msg.Status) {
	case eventEnded:
		return r.reconcileSuccess(ctx, entry, msg)
	case eventFailed:
		return r.reconcileFailure(ctx, entry, msg)
	default:
		// Interim progress event; record for audit only.
		if err := r.queue.RecordWebhookData(ctx, entry.ID, msg.Raw); err != nil {
			return fmt.Errorf("reconciler: record interim event: %w", err)
		}
		return nil
	}
}

func (r *Reconciler) reconcileSuccess(ctx context.Context, entry *domain.QueueEntry, msg queue.CompletionMessage) error {
	outcome := r.classifier.Classify(msg.Transcript)
	delta := r.scores.Delta(outcome)

	// Record and score are applied before the status transition, with the
	// record id derived from the entry id. A transient store failure here
	// leaves the entry in_progress, so redelivery retries the whole fold
	// and the deterministic id makes the repeated append an overwrite of
	// the same row rather than a second record.
	record := &domain.CallRecord{
		ID:              uuid.NewSHA1(callRecordNamespace, entry.ID[:]),
		EntryID:         entry.ID,
		LeadID:          entry.LeadID,
		AgentID:         entry.AgentID,
		ExternalCallID:  msg.ExternalCallID,
		Outcome:         outcome,
		Transcript:      msg.Transcript,
		RecordingURL:    msg.RecordingURL,
		DurationSeconds: msg.DurationSeconds,
		SentimentScore:  msg.SentimentScore,
		ScoreDelta:      delta,
		CreatedAt:       r.now(),
	}
	if err := r.records.Append(ctx, record); err != nil {
		return fmt.Errorf("reconciler: append call record: %w", err)
	}

	if delta != 0 {
		if err := r.leads.IncrementLeadScore(ctx, entry.LeadID, delta); err != nil {
			return fmt.Errorf("reconciler: increment lead score: %w", err)
		}
	}

	if err := r.queue.Complete(ctx, entry.ID, msg.Raw); err != nil {
		if apperrors.Is(err, apperrors.ErrInvalidState) {
			// Lost the race to another delivery of the same event.
			r.logger.Info("reconciler: entry already transitioned, event ignored",
				zap.String("entry_id", entry.ID.String()))
			return nil
		}
		return fmt.Errorf("reconciler: complete entry: %w", err)
	}

	r.releaseSlot(ctx, entry.AgentID)

	r.logger.Info("reconciler: call completed",
		zap.String("entry_id", entry.ID.String()),
		zap.String("outcome", string(outcome)),
		zap.Int("score_delta", delta))

	return nil
}

func (r *Reconciler) reconcileFailure(ctx context.Context, entry *domain.QueueEntry, msg queue.CompletionMessage) error {
	if entry.RetryCount < entry.MaxRetries {
		nextAttempt := r.backoff.NextAttempt(r.now(), entry.RetryCount)
		if err := r.queue.Requeue(ctx, entry.ID, entry.RetryCount+1, nextAttempt, msg.Raw); err != nil {
			if apperrors.Is(err, apperrors.ErrInvalidState) {
				r.logger.Info("reconciler: entry already transitioned, failure event ignored",
					zap.String("entry_id", entry.ID.String()))
				return nil
			}
			return fmt.Errorf("reconciler: requeue entry: %w", err)
		}
		r.releaseSlot(ctx, entry.AgentID)
		r.logger.Info("reconciler: call failed, retry scheduled",
			zap.String("entry_id", entry.ID.String()),
			zap.Int("retry_count", entry.RetryCount+1),
			zap.Int("max_retries", entry.MaxRetries),
			zap.Time("next_attempt", nextAttempt))
		return nil
	}

	if err := r.queue.Fail(ctx, entry.ID, msg.Raw); err != nil {
		if apperrors.Is(err, apperrors.ErrInvalidState) {
			r.logger.Info("reconciler: entry already transitioned, failure event ignored",
				zap.String("entry_id", entry.ID.String()))
			return nil
		}
		return fmt.Errorf("reconciler: fail entry: %w", err)
	}

	r.releaseSlot(ctx, entry.AgentID)
	r.logger.Warn("reconciler: call failed terminally, retries exhausted",
		zap.String("entry_id", entry.ID.String()),
		zap.Int("retry_count", entry.RetryCount),
		zap.Int("max_retries", entry.MaxRetries))

	return nil
}

func (r *Reconciler) releaseSlot(ctx context.Context, agentID uuid.UUID) {
	if r.slots == nil {
		return
	}
	if err := r.slots.Release(ctx, agentID); err != nil {
		r.logger.Warn("reconciler: release agent slot", zap.Error(err))
	}
}

type eventStatus int

const (
	eventInterim eventStatus = iota
	eventEnded
	eventFailed
)

func classifyEventStatus(status string) eventStatus {
	switch status {
	case "ended", "completed", "done":
		return eventEnded
	case "failed", "error", "timeout", "no_answer", "busy":
		return eventFailed
	default:
		return eventInterim
	}
}

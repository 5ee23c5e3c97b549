package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-call-queue/internal/domain"
	apperrors "github.com/acme/lead-call-queue/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
	// ErrInvalidState indicates a guarded status update matched no row.
	ErrInvalidState = apperrors.ErrInvalidState
)

// QueueRepository persists call queue entries.
//
// Insert must enforce the single-active-entry rule for a (lead, agent)
// pair atomically and return ErrConflict on violation. The guarded
// update methods implement compare-and-swap on status: when the entry is
// not in the expected state they return ErrInvalidState and change
// nothing.
type QueueRepository interface {
	Insert(ctx context.Context, entry *domain.QueueEntry) error
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error)
	GetByExternalCallID(ctx context.Context, externalCallID string) (*domain.QueueEntry, error)
	DispatchReady(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error)
	ListByStatus(ctx context.Context, status domain.QueueStatus, limit int) ([]*domain.QueueEntry, error)

	// MarkDispatched transitions scheduled -> in_progress, stamping
	// executed_at and the external call id.
	MarkDispatched(ctx context.Context, id uuid.UUID, externalCallID string, executedAt time.Time) error
	// Cancel transitions scheduled -> cancelled.
	Cancel(ctx context.Context, id uuid.UUID) error
	// Complete transitions in_progress -> completed and stores the raw
	// completion payload for audit.
	Complete(ctx context.Context, id uuid.UUID, webhookData map[string]any) error
	// Fail transitions in_progress -> failed (terminal form).
	Fail(ctx context.Context, id uuid.UUID, webhookData map[string]any) error
	// Requeue transitions in_progress -> scheduled with an incremented
	// retry count and a backed-off scheduled time.
	Requeue(ctx context.Context, id uuid.UUID, retryCount int, nextAttempt time.Time, webhookData map[string]any) error
	// RecordWebhookData refreshes the audit payload without touching
	// status; used for duplicate completion events.
	RecordWebhookData(ctx context.Context, id uuid.UUID, webhookData map[string]any) error
}

// LeadStore exposes the externally owned lead records.
type LeadStore interface {
	GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	// IncrementLeadScore applies the delta as a server-side atomic
	// increment, never read-modify-write.
	IncrementLeadScore(ctx context.Context, id uuid.UUID, delta int) error
}

// AgentRegistry exposes the externally owned agent configurations.
type AgentRegistry interface {
	GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error)
}

// CallRecordStore persists immutable records of finished calls.
type CallRecordStore interface {
	Append(ctx context.Context, record *domain.CallRecord) error
	ListByLead(ctx context.Context, leadID uuid.UUID, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error)
}

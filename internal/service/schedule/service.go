// Package schedule implements the call queue scheduler: admission of call
// requests, cancellation, and the dispatch-ready ordering contract.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/repository"
	apperrors "github.com/acme/lead-call-queue/pkg/errors"
)

// Service coordinates queue entry lifecycle operations.
type Service struct {
	queue             repository.QueueRepository
	leads             repository.LeadStore
	agents            repository.AgentRegistry
	defaultMaxRetries int
	now               func() time.Time
}

// NewService builds the scheduler service.
func NewService(
	queue repository.QueueRepository,
	leads repository.LeadStore,
	agents repository.AgentRegistry,
	defaultMaxRetries int,
) *Service {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = 3
	}
	return &Service{
		queue:             queue,
		leads:             leads,
		agents:            agents,
		defaultMaxRetries: defaultMaxRetries,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleCallInput encapsulates the arguments for scheduling a call.
// A nil ScheduledTime requests an immediate call, which also forces the
// most urgent priority tier. A nil Priority selects the default tier.
type ScheduleCallInput struct {
	LeadID        uuid.UUID
	AgentID       uuid.UUID
	Objective     string
	ScheduledTime *time.Time
	Priority      *int
	CustomContext map[string]any
	RequestedBy   string
}

// Schedule validates a call request and inserts a queue entry.
//
// The single-active-entry check for the (lead, agent) pair is delegated
// to the repository insert so that two racing requests are resolved by
// the store, not by a check here.
func (s *Service) Schedule(ctx context.Context, input ScheduleCallInput) (*domain.QueueEntry, error) {
	if input.Objective == "" {
		return nil, fmt.Errorf("%w: call objective is required", apperrors.ErrValidation)
	}
	if input.LeadID == uuid.Nil {
		return nil, fmt.Errorf("%w: lead id is required", apperrors.ErrValidation)
	}
	if input.AgentID == uuid.Nil {
		return nil, fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}

	if _, err := s.leads.GetLead(ctx, input.LeadID); err != nil {
		return nil, fmt.Errorf("schedule: lookup lead: %w", err)
	}
	if _, err := s.agents.GetAgent(ctx, input.AgentID); err != nil {
		return nil, fmt.Errorf("schedule: lookup agent: %w", err)
	}

	now := s.now()

	scheduledTime := now
	priority := domain.PriorityDefault
	if input.ScheduledTime != nil {
		scheduledTime = input.ScheduledTime.UTC()
		if input.Priority != nil {
			priority = *input.Priority
		}
	} else {
		// Immediate calls are user-initiated and time-sensitive.
		priority = domain.PriorityUrgent
	}

	if priority < domain.PriorityUrgent || priority > domain.PriorityLowest {
		return nil, fmt.Errorf("%w: priority %d out of range [%d, %d]",
			apperrors.ErrValidation, priority, domain.PriorityUrgent, domain.PriorityLowest)
	}

	entry := &domain.QueueEntry{
		ID:            uuid.New(),
		LeadID:        input.LeadID,
		AgentID:       input.AgentID,
		ScheduledTime: scheduledTime,
		Objective:     input.Objective,
		CustomContext: input.CustomContext,
		Priority:      priority,
		Status:        domain.QueueStatusScheduled,
		RetryCount:    0,
		MaxRetries:    s.defaultMaxRetries,
		CreatedBy:     input.RequestedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.queue.Insert(ctx, entry); err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("%w: active call already queued for lead %s and agent %s",
				apperrors.ErrConflict, input.LeadID, input.AgentID)
		}
		return nil, fmt.Errorf("schedule: persist entry: %w", err)
	}

	return entry, nil
}

// Cancel transitions a scheduled entry to cancelled. Entries that were
// already dispatched or are terminal fail with ErrInvalidState.
func (s *Service) Cancel(ctx context.Context, entryID uuid.UUID) error {
	if err := s.queue.Cancel(ctx, entryID); err != nil {
		return fmt.Errorf("cancel entry %s: %w", entryID, err)
	}
	return nil
}

// DispatchReady returns due scheduled entries ordered by
// (priority asc, scheduledTime asc). The result is re-evaluated on each
// call; it is not a cursor.
func (s *Service) DispatchReady(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	entries, err := s.queue.DispatchReady(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("dispatch ready: %w", err)
	}
	return entries, nil
}

// MarkDispatched transitions scheduled -> in_progress, stamping the
// external call id and execution time. The repository guard serializes
// concurrent dispatch attempts on the same entry.
func (s *Service) MarkDispatched(ctx context.Context, entryID uuid.UUID, externalCallID string) error {
	if externalCallID == "" {
		return fmt.Errorf("%w: external call id is required", apperrors.ErrValidation)
	}
	if err := s.queue.MarkDispatched(ctx, entryID, externalCallID, s.now()); err != nil {
		return fmt.Errorf("mark dispatched %s: %w", entryID, err)
	}
	return nil
}

// Get retrieves a queue entry by id.
func (s *Service) Get(ctx context.Context, entryID uuid.UUID) (*domain.QueueEntry, error) {
	return s.queue.Get(ctx, entryID)
}

// ListByStatus exposes the read-only monitoring view of the queue.
func (s *Service) ListByStatus(ctx context.Context, status domain.QueueStatus, limit int) ([]*domain.QueueEntry, error) {
	switch status {
	case domain.QueueStatusScheduled, domain.QueueStatusInProgress,
		domain.QueueStatusCompleted, domain.QueueStatusFailed, domain.QueueStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}
	return s.queue.ListByStatus(ctx, status, limit)
}

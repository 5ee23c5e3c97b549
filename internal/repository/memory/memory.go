// Package memory provides in-memory repository implementations useful for
// tests and early development. They enforce the same admission and
// state-guard semantics as the Postgres implementations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/repository"
)

// QueueRepo is an in-memory repository.QueueRepository.
type QueueRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.QueueEntry
}

// NewQueueRepo constructs an empty queue repository.
func NewQueueRepo() *QueueRepo {
	return &QueueRepo{entries: make(map[uuid.UUID]*domain.QueueEntry)}
}

// Insert stores a new entry, rejecting a second active entry for the
// same (lead, agent) pair under the same lock that performs the insert.
func (r *QueueRepo) Insert(ctx context.Context, entry *domain.QueueEntry) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.entries {
		if existing.LeadID == entry.LeadID && existing.AgentID == entry.AgentID && existing.Active() {
			return repository.ErrConflict
		}
	}

	clone := *entry
	r.entries[entry.ID] = &clone
	return nil
}

// Get returns a copy of the entry.
func (r *QueueRepo) Get(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

// GetByExternalCallID returns the entry correlated with a provider call id.
func (r *QueueRepo) GetByExternalCallID(ctx context.Context, externalCallID string) (*domain.QueueEntry, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.ExternalCallID != nil && *entry.ExternalCallID == externalCallID {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

// DispatchReady returns due scheduled entries sorted by (priority, scheduledTime).
func (r *QueueRepo) DispatchReady(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []*domain.QueueEntry
	for _, entry := range r.entries {
		if entry.Status == domain.QueueStatusScheduled && !entry.ScheduledTime.After(now) {
			clone := *entry
			ready = append(ready, &clone)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].ScheduledTime.Before(ready[j].ScheduledTime)
	})

	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

// ListByStatus returns entries filtered by status sorted by scheduled time.
func (r *QueueRepo) ListByStatus(ctx context.Context, status domain.QueueStatus, limit int) ([]*domain.QueueEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.QueueEntry
	for _, entry := range r.entries {
		if entry.Status == status {
			clone := *entry
			matched = append(matched, &clone)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ScheduledTime.Before(matched[j].ScheduledTime)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// MarkDispatched transitions scheduled -> in_progress under a status guard.
func (r *QueueRepo) MarkDispatched(ctx context.Context, id uuid.UUID, externalCallID string, executedAt time.Time) error {
	_ = ctx
	return r.guarded(id, domain.QueueStatusScheduled, func(entry *domain.QueueEntry) {
		entry.Status = domain.QueueStatusInProgress
		entry.ExternalCallID = &externalCallID
		entry.ExecutedAt = &executedAt
	})
}

// Cancel transitions scheduled -> cancelled.
func (r *QueueRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	_ = ctx
	return r.guarded(id, domain.QueueStatusScheduled, func(entry *domain.QueueEntry) {
		entry.Status = domain.QueueStatusCancelled
	})
}

// Complete transitions in_progress -> completed.
func (r *QueueRepo) Complete(ctx context.Context, id uuid.UUID, webhookData map[string]any) error {
	_ = ctx
	return r.guarded(id, domain.QueueStatusInProgress, func(entry *domain.QueueEntry) {
		entry.Status = domain.QueueStatusCompleted
		entry.WebhookData = webhookData
	})
}

// Fail transitions in_progress -> failed.
func (r *QueueRepo) Fail(ctx context.Context, id uuid.UUID, webhookData map[string]any) error {
	_ = ctx
	return r.guarded(id, domain.QueueStatusInProgress, func(entry *domain.QueueEntry) {
		entry.Status = domain.QueueStatusFailed
		entry.WebhookData = webhookData
	})
}

// Requeue transitions in_progress -> scheduled for a retry attempt.
func (r *QueueRepo) Requeue(ctx context.Context, id uuid.UUID, retryCount int, nextAttempt time.Time, webhookData map[string]any) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	if entry.Status != domain.QueueStatusInProgress || entry.RetryCount >= entry.MaxRetries {
		return repository.ErrInvalidState
	}

	entry.Status = domain.QueueStatusScheduled
	entry.RetryCount = retryCount
	entry.ScheduledTime = nextAttempt
	entry.ExternalCallID = nil
	entry.WebhookData = webhookData
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordWebhookData refreshes the audit payload without touching status.
func (r *QueueRepo) RecordWebhookData(ctx context.Context, id uuid.UUID, webhookData map[string]any) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	entry.WebhookData = webhookData
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *QueueRepo) guarded(id uuid.UUID, expected domain.QueueStatus, apply func(*domain.QueueEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	if entry.Status != expected {
		return repository.ErrInvalidState
	}

	apply(entry)
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// LeadStore is an in-memory repository.LeadStore.
type LeadStore struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*domain.Lead
}

// NewLeadStore constructs an empty lead store.
func NewLeadStore() *LeadStore {
	return &LeadStore{leads: make(map[uuid.UUID]*domain.Lead)}
}

// PutLead seeds a lead.
func (s *LeadStore) PutLead(lead *domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *lead
	s.leads[lead.ID] = &clone
}

// GetLead fetches a lead by id.
func (s *LeadStore) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *lead
	return &clone, nil
}

// IncrementLeadScore applies the delta atomically under the store lock.
func (s *LeadStore) IncrementLeadScore(ctx context.Context, id uuid.UUID, delta int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.Score += delta
	return nil
}

// AgentRegistry is an in-memory repository.AgentRegistry.
type AgentRegistry struct {
	mu     sync.Mutex
	agents map[uuid.UUID]*domain.Agent
}

// NewAgentRegistry constructs an empty agent registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[uuid.UUID]*domain.Agent)}
}

// PutAgent seeds an agent.
func (s *AgentRegistry) PutAgent(agent *domain.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *agent
	s.agents[agent.ID] = &clone
}

// GetAgent fetches an agent by id.
func (s *AgentRegistry) GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *agent
	return &clone, nil
}

// CallRecordStore is an in-memory repository.CallRecordStore.
type CallRecordStore struct {
	mu      sync.Mutex
	records []domain.CallRecord
}

// NewCallRecordStore constructs an empty record store.
func NewCallRecordStore() *CallRecordStore {
	return &CallRecordStore{}
}

// Append stores a record. Like the Scylla insert it upserts by record
// id, so a repeated append of the same record overwrites in place.
func (s *CallRecordStore) Append(ctx context.Context, record *domain.CallRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == record.ID {
			s.records[i] = *record
			return nil
		}
	}
	s.records = append(s.records, *record)
	return nil
}

// ListByLead lists records for a lead, newest first. Paging state is not
// supported by the in-memory store and is returned nil.
func (s *CallRecordStore) ListByLead(ctx context.Context, leadID uuid.UUID, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error) {
	_ = ctx
	_ = pagingState
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.CallRecord
	for _, record := range s.records {
		if record.LeadID == leadID {
			matched = append(matched, record)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil, nil
}

// All returns every stored record; test helper.
func (s *CallRecordStore) All() []domain.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

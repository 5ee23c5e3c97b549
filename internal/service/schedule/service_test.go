package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/repository/memory"
	apperrors "github.com/acme/lead-call-queue/pkg/errors"
)

func newTestService(t *testing.T) (*Service, *memory.QueueRepo, uuid.UUID, uuid.UUID) {
	t.Helper()

	queueRepo := memory.NewQueueRepo()
	leads := memory.NewLeadStore()
	agents := memory.NewAgentRegistry()

	leadID := uuid.New()
	leads.PutLead(&domain.Lead{ID: leadID, FirstName: "Dana", Phone: "+15550100"})

	agentID := uuid.New()
	externalID := "agent-ext-1"
	agents.PutAgent(&domain.Agent{ID: agentID, Name: "Closer", ExternalAgentID: &externalID})

	return NewService(queueRepo, leads, agents, 3), queueRepo, leadID, agentID
}

func TestScheduleImmediateDefaults(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	before := time.Now().UTC()
	entry, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID:    leadID,
		AgentID:   agentID,
		Objective: "follow up on viewing",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if entry.Priority != domain.PriorityUrgent {
		t.Errorf("immediate call priority = %d, want %d", entry.Priority, domain.PriorityUrgent)
	}
	if entry.ScheduledTime.Before(before) {
		t.Errorf("immediate call scheduled in the past: %v", entry.ScheduledTime)
	}
	if entry.Status != domain.QueueStatusScheduled {
		t.Errorf("status = %s, want scheduled", entry.Status)
	}
	if entry.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", entry.MaxRetries)
	}
}

func TestScheduleFutureUsesDefaultPriority(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	future := time.Now().UTC().Add(2 * time.Hour)
	entry, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID:        leadID,
		AgentID:       agentID,
		Objective:     "qualification call",
		ScheduledTime: &future,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if entry.Priority != domain.PriorityDefault {
		t.Errorf("priority = %d, want %d", entry.Priority, domain.PriorityDefault)
	}
	if !entry.ScheduledTime.Equal(future) {
		t.Errorf("scheduled time = %v, want %v", entry.ScheduledTime, future)
	}
}

func TestScheduleValidation(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)
	future := time.Now().UTC().Add(time.Hour)
	badPriority := 9

	cases := []ScheduleCallInput{
		{LeadID: leadID, AgentID: agentID},
		{AgentID: agentID, Objective: "x"},
		{LeadID: leadID, Objective: "x"},
		{LeadID: leadID, AgentID: agentID, Objective: "x", ScheduledTime: &future, Priority: &badPriority},
	}

	for _, input := range cases {
		if _, err := svc.Schedule(context.Background(), input); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected validation error for input %+v, got %v", input, err)
		}
	}
}

func TestScheduleUnknownLeadOrAgent(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	if _, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID: uuid.New(), AgentID: agentID, Objective: "x",
	}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("unknown lead: got %v, want not found", err)
	}

	if _, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID: leadID, AgentID: uuid.New(), Objective: "x",
	}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("unknown agent: got %v, want not found", err)
	}
}

func TestScheduleRejectsSecondActiveEntry(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	input := ScheduleCallInput{LeadID: leadID, AgentID: agentID, Objective: "first"}
	if _, err := svc.Schedule(context.Background(), input); err != nil {
		t.Fatalf("first schedule: %v", err)
	}

	input.Objective = "second"
	if _, err := svc.Schedule(context.Background(), input); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("second schedule for same pair: got %v, want conflict", err)
	}
}

func TestScheduleAllowedAfterCancel(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	entry, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID: leadID, AgentID: agentID, Objective: "first",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := svc.Cancel(context.Background(), entry.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID: leadID, AgentID: agentID, Objective: "second",
	}); err != nil {
		t.Fatalf("schedule after cancel: %v", err)
	}
}

func TestCancelTwiceFails(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	entry, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID: leadID, AgentID: agentID, Objective: "x",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := svc.Cancel(context.Background(), entry.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := svc.Cancel(context.Background(), entry.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("second cancel: got %v, want invalid state", err)
	}
}

func TestCancelUnknownEntryNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if err := svc.Cancel(context.Background(), uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("cancel unknown entry: got %v, want not found", err)
	}
}

func TestCancelDispatchedEntryFails(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	entry, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID: leadID, AgentID: agentID, Objective: "x",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := svc.MarkDispatched(context.Background(), entry.ID, "call-1"); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}

	if err := svc.Cancel(context.Background(), entry.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("cancel dispatched entry: got %v, want invalid state", err)
	}
}

func TestMarkDispatchedRequiresExternalCallID(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	entry, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID: leadID, AgentID: agentID, Objective: "x",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := svc.MarkDispatched(context.Background(), entry.ID, ""); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("empty external call id: got %v, want validation error", err)
	}
}

func TestMarkDispatchedOnlyOnce(t *testing.T) {
	svc, _, leadID, agentID := newTestService(t)

	entry, err := svc.Schedule(context.Background(), ScheduleCallInput{
		LeadID: leadID, AgentID: agentID, Objective: "x",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := svc.MarkDispatched(context.Background(), entry.ID, "call-1"); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := svc.MarkDispatched(context.Background(), entry.ID, "call-2"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("second dispatch: got %v, want invalid state", err)
	}
}

func TestDispatchReadyOrdering(t *testing.T) {
	queueRepo := memory.NewQueueRepo()
	leads := memory.NewLeadStore()
	agents := memory.NewAgentRegistry()
	svc := NewService(queueRepo, leads, agents, 3)

	now := time.Now().UTC()
	mk := func(priority int, scheduled time.Time) uuid.UUID {
		entry := &domain.QueueEntry{
			ID:            uuid.New(),
			LeadID:        uuid.New(),
			AgentID:       uuid.New(),
			ScheduledTime: scheduled,
			Objective:     "ordering",
			Priority:      priority,
			Status:        domain.QueueStatusScheduled,
			MaxRetries:    3,
		}
		if err := queueRepo.Insert(context.Background(), entry); err != nil {
			t.Fatalf("insert: %v", err)
		}
		return entry.ID
	}

	late := mk(domain.PriorityDefault, now.Add(-time.Minute))
	early := mk(domain.PriorityDefault, now.Add(-time.Hour))
	urgent := mk(domain.PriorityUrgent, now.Add(-time.Second))
	mk(domain.PriorityDefault, now.Add(time.Hour)) // not yet due

	ready, err := svc.DispatchReady(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("dispatch ready: %v", err)
	}

	if len(ready) != 3 {
		t.Fatalf("ready count = %d, want 3", len(ready))
	}
	want := []uuid.UUID{urgent, early, late}
	for i, id := range want {
		if ready[i].ID != id {
			t.Errorf("ready[%d] = %s, want %s", i, ready[i].ID, id)
		}
	}
}

func TestListByStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.ListByStatus(context.Background(), "sleeping", 10); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("unknown status: got %v, want validation error", err)
	}
}

package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/queue"
	"github.com/acme/lead-call-queue/internal/repository/memory"
	"github.com/acme/lead-call-queue/pkg/logger"
)

type fakeSlots struct {
	mu       sync.Mutex
	released []uuid.UUID
}

func (f *fakeSlots) Release(_ context.Context, agentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, agentID)
	return nil
}

func (f *fakeSlots) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.released)
}

type reconcilerFixture struct {
	reconciler *Reconciler
	queue      *memory.QueueRepo
	leads      *memory.LeadStore
	records    *memory.CallRecordStore
	slots      *fakeSlots
	leadID     uuid.UUID
	agentID    uuid.UUID
}

func newFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	queueRepo := memory.NewQueueRepo()
	leads := memory.NewLeadStore()
	records := memory.NewCallRecordStore()
	slots := &fakeSlots{}

	leadID := uuid.New()
	leads.PutLead(&domain.Lead{ID: leadID, FirstName: "Jo", Phone: "+15550100", Score: 50})

	backoff := NewBackoff(domain.RetryPolicy{BaseDelay: 30 * time.Second, MaxDelay: 15 * time.Minute})

	return &reconcilerFixture{
		reconciler: New(
			queueRepo, leads, records,
			KeywordClassifier{}, DefaultScorePolicy(), backoff, slots,
			&logger.Logger{Logger: zap.NewNop()},
		),
		queue:   queueRepo,
		leads:   leads,
		records: records,
		slots:   slots,
		leadID:  leadID,
		agentID: uuid.New(),
	}
}

// inProgressEntry seeds an entry already dispatched to the provider.
func (f *reconcilerFixture) inProgressEntry(t *testing.T, externalCallID string, retryCount, maxRetries int) *domain.QueueEntry {
	t.Helper()

	entry := &domain.QueueEntry{
		ID:            uuid.New(),
		LeadID:        f.leadID,
		AgentID:       f.agentID,
		ScheduledTime: time.Now().UTC().Add(-time.Minute),
		Objective:     "follow up",
		Priority:      domain.PriorityDefault,
		Status:        domain.QueueStatusScheduled,
		RetryCount:    retryCount,
		MaxRetries:    maxRetries,
	}
	if err := f.queue.Insert(context.Background(), entry); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	if err := f.queue.MarkDispatched(context.Background(), entry.ID, externalCallID, time.Now().UTC()); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	got, err := f.queue.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("reload entry: %v", err)
	}
	return got
}

func TestReconcileSuccessAppliesOutcome(t *testing.T) {
	f := newFixture(t)
	entry := f.inProgressEntry(t, "call-1", 0, 3)

	msg := queue.CompletionMessage{
		ExternalCallID: "call-1",
		Status:         "ended",
		Transcript:     "Sounds great, let's set up an appointment.",
		Raw:            map[string]any{"status": "ended"},
	}
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, err := f.queue.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.QueueStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	records := f.records.All()
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	if records[0].Outcome != domain.OutcomeAppointmentScheduled {
		t.Errorf("outcome = %s, want appointment_scheduled", records[0].Outcome)
	}
	if records[0].ScoreDelta != 20 {
		t.Errorf("score delta = %d, want 20", records[0].ScoreDelta)
	}

	lead, err := f.leads.GetLead(context.Background(), f.leadID)
	if err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	if lead.Score != 70 {
		t.Errorf("lead score = %d, want 70", lead.Score)
	}

	if f.slots.releaseCount() != 1 {
		t.Errorf("slot releases = %d, want 1", f.slots.releaseCount())
	}
}

type flakyRecordStore struct {
	*memory.CallRecordStore
	failures int
}

func (s *flakyRecordStore) Append(ctx context.Context, record *domain.CallRecord) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("record store temporarily down")
	}
	return s.CallRecordStore.Append(ctx, record)
}

// A transient record-store failure must leave the entry in_progress so
// the redelivered event can retry the full fold: one record, one score
// delta, entry completed.
func TestReconcileRetriesAfterTransientAppendFailure(t *testing.T) {
	queueRepo := memory.NewQueueRepo()
	leads := memory.NewLeadStore()
	records := memory.NewCallRecordStore()
	flaky := &flakyRecordStore{CallRecordStore: records, failures: 1}
	slots := &fakeSlots{}

	leadID := uuid.New()
	leads.PutLead(&domain.Lead{ID: leadID, FirstName: "Jo", Phone: "+15550100", Score: 50})

	entry := &domain.QueueEntry{
		ID:            uuid.New(),
		LeadID:        leadID,
		AgentID:       uuid.New(),
		ScheduledTime: time.Now().UTC().Add(-time.Minute),
		Objective:     "follow up",
		Priority:      domain.PriorityDefault,
		Status:        domain.QueueStatusScheduled,
		MaxRetries:    3,
	}
	if err := queueRepo.Insert(context.Background(), entry); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	if err := queueRepo.MarkDispatched(context.Background(), entry.ID, "call-1", time.Now().UTC()); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}

	rec := New(
		queueRepo, leads, flaky,
		KeywordClassifier{}, DefaultScorePolicy(),
		NewBackoff(domain.RetryPolicy{BaseDelay: 30 * time.Second, MaxDelay: 15 * time.Minute}),
		slots, &logger.Logger{Logger: zap.NewNop()},
	)

	msg := queue.CompletionMessage{
		ExternalCallID: "call-1",
		Status:         "ended",
		Transcript:     "Sounds great, let's set up an appointment.",
		Raw:            map[string]any{"status": "ended"},
	}

	if err := rec.Reconcile(context.Background(), msg); err == nil {
		t.Fatal("expected error from transient append failure")
	}

	got, err := queueRepo.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.QueueStatusInProgress {
		t.Fatalf("status after failed fold = %s, want in_progress", got.Status)
	}

	// Redelivery retries the whole fold.
	if err := rec.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	got, err = queueRepo.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.QueueStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if count := len(records.All()); count != 1 {
		t.Errorf("record count = %d, want 1", count)
	}
	lead, err := leads.GetLead(context.Background(), leadID)
	if err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	if lead.Score != 70 {
		t.Errorf("lead score = %d, want 70 (delta applied once)", lead.Score)
	}
}

// The record id is derived from the entry id, so a repeated append from a
// redelivered event lands on the same row.
func TestReconcileRecordIDDeterministic(t *testing.T) {
	f := newFixture(t)
	entry := f.inProgressEntry(t, "call-1", 0, 3)

	msg := queue.CompletionMessage{ExternalCallID: "call-1", Status: "ended"}
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	records := f.records.All()
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	want := uuid.NewSHA1(callRecordNamespace, entry.ID[:])
	if records[0].ID != want {
		t.Errorf("record id = %s, want %s", records[0].ID, want)
	}
}

func TestReconcileDuplicateEventIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.inProgressEntry(t, "call-1", 0, 3)

	msg := queue.CompletionMessage{
		ExternalCallID: "call-1",
		Status:         "ended",
		Transcript:     "let's schedule a viewing",
		Raw:            map[string]any{"delivery": 1},
	}
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	msg.Raw = map[string]any{"delivery": 2}
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if got := len(f.records.All()); got != 1 {
		t.Errorf("record count after duplicate = %d, want 1", got)
	}

	lead, err := f.leads.GetLead(context.Background(), f.leadID)
	if err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	if lead.Score != 70 {
		t.Errorf("lead score after duplicate = %d, want 70 (applied once)", lead.Score)
	}

	if f.slots.releaseCount() != 1 {
		t.Errorf("slot releases = %d, want 1", f.slots.releaseCount())
	}
}

func TestReconcileFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	entry := f.inProgressEntry(t, "call-1", 0, 3)

	before := time.Now().UTC()
	msg := queue.CompletionMessage{
		ExternalCallID: "call-1",
		Status:         "no_answer",
		Raw:            map[string]any{"status": "no_answer"},
	}
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, err := f.queue.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.QueueStatusScheduled {
		t.Errorf("status = %s, want scheduled (requeued)", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.ExternalCallID != nil {
		t.Errorf("external call id = %v, want cleared", *got.ExternalCallID)
	}
	if !got.ScheduledTime.After(before) {
		t.Errorf("scheduled time %v not pushed into the future", got.ScheduledTime)
	}

	if got := len(f.records.All()); got != 0 {
		t.Errorf("record count = %d, want 0 for failed call", got)
	}
	if f.slots.releaseCount() != 1 {
		t.Errorf("slot releases = %d, want 1", f.slots.releaseCount())
	}
}

func TestReconcileFailureExhaustedRetries(t *testing.T) {
	f := newFixture(t)
	entry := f.inProgressEntry(t, "call-1", 3, 3)

	msg := queue.CompletionMessage{
		ExternalCallID: "call-1",
		Status:         "failed",
		Raw:            map[string]any{"status": "failed"},
	}
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, err := f.queue.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.QueueStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !got.IsTerminal() {
		t.Error("entry with exhausted retries must be terminal")
	}

	// A late duplicate failure event must change nothing.
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("duplicate after terminal: %v", err)
	}
	again, _ := f.queue.Get(context.Background(), entry.ID)
	if again.Status != domain.QueueStatusFailed || again.RetryCount != 3 {
		t.Errorf("terminal entry mutated by duplicate: %+v", again)
	}
}

// Exercises the full retry loop: one initial dispatch plus maxRetries
// retries, each reported failed, ends terminal with retryCount at the cap.
func TestReconcileRetryLoopEndsTerminal(t *testing.T) {
	f := newFixture(t)
	entry := f.inProgressEntry(t, "call-0", 0, 3)

	for attempt := 0; attempt < 4; attempt++ {
		callID := fmt.Sprintf("call-%d", attempt)
		msg := queue.CompletionMessage{
			ExternalCallID: callID,
			Status:         "failed",
			Raw:            map[string]any{"attempt": attempt},
		}
		if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}

		got, err := f.queue.Get(context.Background(), entry.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if attempt < 3 {
			if got.Status != domain.QueueStatusScheduled {
				t.Fatalf("attempt %d: status = %s, want scheduled", attempt, got.Status)
			}
			if got.RetryCount != attempt+1 {
				t.Fatalf("attempt %d: retry count = %d, want %d", attempt, got.RetryCount, attempt+1)
			}
			// Simulate the next dispatch.
			nextID := fmt.Sprintf("call-%d", attempt+1)
			if err := f.queue.MarkDispatched(context.Background(), entry.ID, nextID, time.Now().UTC()); err != nil {
				t.Fatalf("redispatch %d: %v", attempt+1, err)
			}
		} else {
			if got.Status != domain.QueueStatusFailed {
				t.Fatalf("final status = %s, want failed", got.Status)
			}
			if got.RetryCount != 3 {
				t.Fatalf("final retry count = %d, want 3", got.RetryCount)
			}
			if !got.IsTerminal() {
				t.Fatal("entry must be terminal after exhausting retries")
			}
		}
	}
}

func TestReconcileUnknownCallIDDropped(t *testing.T) {
	f := newFixture(t)

	msg := queue.CompletionMessage{ExternalCallID: "ghost", Status: "ended"}
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("unknown call id should be absorbed, got %v", err)
	}
	if got := len(f.records.All()); got != 0 {
		t.Errorf("record count = %d, want 0", got)
	}
}

func TestReconcileMissingCallIDDropped(t *testing.T) {
	f := newFixture(t)

	if err := f.reconciler.Reconcile(context.Background(), queue.CompletionMessage{Status: "ended"}); err != nil {
		t.Fatalf("event without call id should be absorbed, got %v", err)
	}
}

func TestReconcileInterimEventKeepsEntryInProgress(t *testing.T) {
	f := newFixture(t)
	entry := f.inProgressEntry(t, "call-1", 0, 3)

	msg := queue.CompletionMessage{
		ExternalCallID: "call-1",
		Status:         "ringing",
		Raw:            map[string]any{"status": "ringing"},
	}
	if err := f.reconciler.Reconcile(context.Background(), msg); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, err := f.queue.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.QueueStatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
	if got.WebhookData == nil {
		t.Error("interim event payload not recorded")
	}
	if f.slots.releaseCount() != 0 {
		t.Errorf("slot releases = %d, want 0 for interim event", f.slots.releaseCount())
	}
}

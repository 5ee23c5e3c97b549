package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus enumerates lifecycle states of a queue entry.
type QueueStatus string

const (
	QueueStatusScheduled  QueueStatus = "scheduled"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// Priority bounds for queue entries. Lower value means more urgent.
const (
	PriorityUrgent  = 1
	PriorityDefault = 3
	PriorityLowest  = 4
)

// QueueEntry is a unit of scheduled or in-flight call work.
type QueueEntry struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	AgentID        uuid.UUID
	ScheduledTime  time.Time
	Objective      string
	CustomContext  map[string]any
	Priority       int
	Status         QueueStatus
	RetryCount     int
	MaxRetries     int
	ExternalCallID *string
	ExecutedAt     *time.Time
	WebhookData    map[string]any
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal reports whether the entry can accept no further transitions.
// A failed entry is terminal only once its retries are exhausted.
func (e *QueueEntry) IsTerminal() bool {
	switch e.Status {
	case QueueStatusCompleted, QueueStatusCancelled:
		return true
	case QueueStatusFailed:
		return e.RetryCount >= e.MaxRetries
	default:
		return false
	}
}

// Active reports whether the entry still occupies its (lead, agent) slot.
func (e *QueueEntry) Active() bool {
	return e.Status == QueueStatusScheduled || e.Status == QueueStatusInProgress
}

// CanTransition validates a status change against the state machine.
func CanTransition(from, to QueueStatus) bool {
	switch from {
	case QueueStatusScheduled:
		return to == QueueStatusInProgress || to == QueueStatusCancelled
	case QueueStatusInProgress:
		return to == QueueStatusCompleted || to == QueueStatusFailed
	case QueueStatusFailed:
		// Retry path only; the retry-count guard lives in the reconciler.
		return to == QueueStatusScheduled
	default:
		return false
	}
}

// CallOutcome is the classified result of a finished call.
type CallOutcome string

const (
	OutcomeAppointmentScheduled CallOutcome = "appointment_scheduled"
	OutcomeQualified            CallOutcome = "qualified"
	OutcomeCallbackRequested    CallOutcome = "callback_requested"
	OutcomeNotInterested        CallOutcome = "not_interested"
	OutcomeCompleted            CallOutcome = "completed"
)

// RetryPolicy defines the backoff schedule for failed dispatches.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

// Lead is a prospective customer record owned by the lead store.
type Lead struct {
	ID          uuid.UUID
	FirstName   string
	LastName    string
	Phone       string
	Status      string
	Score       int
	Preferences *LeadPreferences
	Notes       []Note
}

// LeadPreferences captures property preferences used for call context.
type LeadPreferences struct {
	BudgetMin      *int64
	BudgetMax      *int64
	BedroomsMin    *int
	PreferredAreas []string
}

// Note is a prior interaction note attached to a lead.
type Note struct {
	Content   string
	CreatedAt time.Time
}

// Agent is a configured calling persona bound to the external provider.
type Agent struct {
	ID              uuid.UUID
	Name            string
	VoiceID         string
	Script          string
	ExternalAgentID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Synced reports whether the agent carries a provider binding.
func (a *Agent) Synced() bool {
	return a.ExternalAgentID != nil && *a.ExternalAgentID != ""
}

// CallRecord is the immutable record of a finished call.
type CallRecord struct {
	ID              uuid.UUID
	EntryID         uuid.UUID
	LeadID          uuid.UUID
	AgentID         uuid.UUID
	ExternalCallID  string
	Outcome         CallOutcome
	Transcript      string
	RecordingURL    string
	DurationSeconds int
	SentimentScore  float64
	ScoreDelta      int
	CreatedAt       time.Time
}

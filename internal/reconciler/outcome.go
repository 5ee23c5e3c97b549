package reconciler

import (
	"strings"

	"github.com/acme/lead-call-queue/internal/domain"
)

// OutcomeClassifier maps a call transcript to a classified outcome.
// It is the only component that interprets transcript text, so the
// keyword policy can be swapped without touching state-machine logic.
type OutcomeClassifier interface {
	Classify(transcript string) domain.CallOutcome
}

// KeywordClassifier is a keyword-table classifier over the transcript.
type KeywordClassifier struct{}

// Classify scans the transcript for outcome keywords. Negative phrases
// are checked before positive ones because "not interested" contains
// "interested". Absence of any keyword defaults to completed.
func (KeywordClassifier) Classify(transcript string) domain.CallOutcome {
	text := strings.ToLower(transcript)

	switch {
	case strings.Contains(text, "not interested") || strings.Contains(text, "no thank"):
		return domain.OutcomeNotInterested
	case strings.Contains(text, "appointment") || strings.Contains(text, "schedule"):
		return domain.OutcomeAppointmentScheduled
	case strings.Contains(text, "callback") || strings.Contains(text, "call back"):
		return domain.OutcomeCallbackRequested
	case strings.Contains(text, "qualified") || strings.Contains(text, "interested"):
		return domain.OutcomeQualified
	default:
		return domain.OutcomeCompleted
	}
}

// ScorePolicy maps a classified outcome to the lead-score delta applied
// on reconciliation. Outcomes absent from the table score zero.
type ScorePolicy map[domain.CallOutcome]int

// DefaultScorePolicy returns the standard scoring table.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		domain.OutcomeAppointmentScheduled: 20,
		domain.OutcomeQualified:            10,
		domain.OutcomeCallbackRequested:    5,
		domain.OutcomeNotInterested:        -5,
	}
}

// Delta returns the score change for an outcome.
func (p ScorePolicy) Delta(outcome domain.CallOutcome) int {
	return p[outcome]
}

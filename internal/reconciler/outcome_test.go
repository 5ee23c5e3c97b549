package reconciler

import (
	"testing"

	"github.com/acme/lead-call-queue/internal/domain"
)

func TestKeywordClassifier(t *testing.T) {
	cases := []struct {
		transcript string
		want       domain.CallOutcome
	}{
		{"Great, let's book an appointment for Tuesday.", domain.OutcomeAppointmentScheduled},
		{"Can we schedule a viewing next week?", domain.OutcomeAppointmentScheduled},
		{"I'm definitely interested in the condo.", domain.OutcomeQualified},
		{"The buyer is qualified for that range.", domain.OutcomeQualified},
		{"Please call back tomorrow afternoon.", domain.OutcomeCallbackRequested},
		{"I'd like a callback when the listing is live.", domain.OutcomeCallbackRequested},
		{"No thanks, I'm not interested anymore.", domain.OutcomeNotInterested},
		{"Hello? Sorry, wrong number.", domain.OutcomeCompleted},
		{"", domain.OutcomeCompleted},
	}

	var classifier KeywordClassifier
	for _, tc := range cases {
		if got := classifier.Classify(tc.transcript); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.transcript, got, tc.want)
		}
	}
}

// "not interested" contains "interested"; the negative phrase must win.
func TestKeywordClassifierNegativeBeatsPositive(t *testing.T) {
	var classifier KeywordClassifier
	if got := classifier.Classify("Honestly I am not interested."); got != domain.OutcomeNotInterested {
		t.Fatalf("Classify = %s, want %s", got, domain.OutcomeNotInterested)
	}
}

func TestDefaultScorePolicy(t *testing.T) {
	policy := DefaultScorePolicy()

	cases := map[domain.CallOutcome]int{
		domain.OutcomeAppointmentScheduled: 20,
		domain.OutcomeQualified:            10,
		domain.OutcomeCallbackRequested:    5,
		domain.OutcomeNotInterested:        -5,
		domain.OutcomeCompleted:            0,
	}
	for outcome, want := range cases {
		if got := policy.Delta(outcome); got != want {
			t.Errorf("Delta(%s) = %d, want %d", outcome, got, want)
		}
	}
}

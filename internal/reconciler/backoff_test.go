package reconciler

import (
	"testing"
	"time"

	"github.com/acme/lead-call-queue/internal/domain"
)

func TestBackoffDoublesPerFailure(t *testing.T) {
	backoff := NewBackoff(domain.RetryPolicy{
		BaseDelay: 30 * time.Second,
		MaxDelay:  15 * time.Minute,
	})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
	}
	for _, tc := range cases {
		got := backoff.NextAttempt(now, tc.failures).Sub(now)
		if got != tc.want {
			t.Errorf("failures=%d delay=%v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	backoff := NewBackoff(domain.RetryPolicy{
		BaseDelay: 30 * time.Second,
		MaxDelay:  15 * time.Minute,
	})

	now := time.Now().UTC()
	if got := backoff.NextAttempt(now, 20).Sub(now); got != 15*time.Minute {
		t.Fatalf("delay = %v, want cap at 15m", got)
	}
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	backoff := NewBackoff(domain.RetryPolicy{
		BaseDelay: 30 * time.Second,
		MaxDelay:  15 * time.Minute,
		Jitter:    0.2,
	})

	now := time.Now().UTC()
	for i := 0; i < 100; i++ {
		delay := backoff.NextAttempt(now, 2).Sub(now)
		if delay < 30*time.Second {
			t.Fatalf("delay %v below base delay floor", delay)
		}
		// 2m nominal, +/-10% jitter
		if delay < 108*time.Second || delay > 132*time.Second {
			t.Fatalf("delay %v outside jitter bounds", delay)
		}
	}
}

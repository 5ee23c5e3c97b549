package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from, to QueueStatus
	}{
		{QueueStatusScheduled, QueueStatusInProgress},
		{QueueStatusScheduled, QueueStatusCancelled},
		{QueueStatusInProgress, QueueStatusCompleted},
		{QueueStatusInProgress, QueueStatusFailed},
		{QueueStatusFailed, QueueStatusScheduled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected transition %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to QueueStatus
	}{
		{QueueStatusScheduled, QueueStatusCompleted},
		{QueueStatusInProgress, QueueStatusCancelled},
		{QueueStatusCompleted, QueueStatusScheduled},
		{QueueStatusCancelled, QueueStatusInProgress},
		{QueueStatusFailed, QueueStatusCompleted},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected transition %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	entry := QueueEntry{Status: QueueStatusFailed, RetryCount: 1, MaxRetries: 3}
	if entry.IsTerminal() {
		t.Fatal("failed entry with retries left must not be terminal")
	}

	entry.RetryCount = 3
	if !entry.IsTerminal() {
		t.Fatal("failed entry with exhausted retries must be terminal")
	}

	entry = QueueEntry{Status: QueueStatusCompleted}
	if !entry.IsTerminal() {
		t.Fatal("completed entry must be terminal")
	}

	entry = QueueEntry{Status: QueueStatusInProgress}
	if entry.IsTerminal() {
		t.Fatal("in-progress entry must not be terminal")
	}
}

func TestActive(t *testing.T) {
	for _, status := range []QueueStatus{QueueStatusScheduled, QueueStatusInProgress} {
		if !(&QueueEntry{Status: status}).Active() {
			t.Errorf("expected %s entry to be active", status)
		}
	}
	for _, status := range []QueueStatus{QueueStatusCompleted, QueueStatusFailed, QueueStatusCancelled} {
		if (&QueueEntry{Status: status}).Active() {
			t.Errorf("expected %s entry to be inactive", status)
		}
	}
}

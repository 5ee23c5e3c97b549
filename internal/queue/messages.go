package queue

import "time"

// CompletionMessage carries a provider completion event from the webhook
// intake to the reconciler. Events are delivered at least once and in no
// particular order; the reconciler is responsible for idempotency.
type CompletionMessage struct {
	ExternalCallID  string         `json:"external_call_id"`
	Status          string         `json:"status"`
	Transcript      string         `json:"transcript,omitempty"`
	RecordingURL    string         `json:"recording_url,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	SentimentScore  float64        `json:"sentiment_score,omitempty"`
	Raw             map[string]any `json:"raw"`
	ReceivedAt      time.Time      `json:"received_at"`
}

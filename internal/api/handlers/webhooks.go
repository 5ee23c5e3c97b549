package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-call-queue/internal/queue"
)

// callEventRequest mirrors the provider's webhook payload. Only the
// fields the reconciler acts on are typed; the full body is carried
// through as the raw audit payload.
type callEventRequest struct {
	CallID          string  `json:"call_id"`
	ConversationID  string  `json:"conversation_id"`
	Status          string  `json:"status"`
	Transcript      string  `json:"transcript"`
	RecordingURL    string  `json:"recording_url"`
	DurationSeconds int     `json:"duration_seconds"`
	SentimentScore  float64 `json:"sentiment_score"`
}

// callEvent accepts a provider completion event and hands it to Kafka.
// The provider only needs an ack that the event was durably accepted;
// reconciliation happens asynchronously.
func (h *HandlerSet) callEvent(ctx *fiber.Ctx) error {
	body := ctx.Body()

	var req callEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid event payload")
	}

	externalCallID := req.CallID
	if externalCallID == "" {
		externalCallID = req.ConversationID
	}
	if externalCallID == "" {
		return fiber.NewError(http.StatusBadRequest, "event missing call id")
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = map[string]any{}
	}

	msg := queue.CompletionMessage{
		ExternalCallID:  externalCallID,
		Status:          req.Status,
		Transcript:      req.Transcript,
		RecordingURL:    req.RecordingURL,
		DurationSeconds: req.DurationSeconds,
		SentimentScore:  req.SentimentScore,
		Raw:             raw,
		ReceivedAt:      time.Now().UTC(),
	}

	if err := h.completions.PublishCompletion(ctx.Context(), msg); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

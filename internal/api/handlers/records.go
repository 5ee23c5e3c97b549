package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/service/common"
)

type callRecordResponse struct {
	ID              uuid.UUID          `json:"id"`
	EntryID         uuid.UUID          `json:"entry_id"`
	LeadID          uuid.UUID          `json:"lead_id"`
	AgentID         uuid.UUID          `json:"agent_id"`
	ExternalCallID  string             `json:"external_call_id"`
	Outcome         domain.CallOutcome `json:"outcome"`
	Transcript      string             `json:"transcript,omitempty"`
	RecordingURL    string             `json:"recording_url,omitempty"`
	DurationSeconds int                `json:"duration_seconds"`
	SentimentScore  float64            `json:"sentiment_score"`
	ScoreDelta      int                `json:"score_delta"`
	CreatedAt       time.Time          `json:"created_at"`
}

type listCallRecordsResponse struct {
	Records  []callRecordResponse `json:"records"`
	NextPage string               `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) listLeadCalls(ctx *fiber.Ctx) error {
	leadID, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	var pagingState []byte
	if token := ctx.Query("page_token"); token != "" {
		pagingState, err = common.DecodePageToken(token)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid page token")
		}
	}

	records, nextState, err := h.records.ListByLead(ctx.Context(), leadID, limit, pagingState)
	if err != nil {
		return translateError(err)
	}

	resp := listCallRecordsResponse{Records: make([]callRecordResponse, 0, len(records))}
	for _, r := range records {
		resp.Records = append(resp.Records, callRecordResponse{
			ID:              r.ID,
			EntryID:         r.EntryID,
			LeadID:          r.LeadID,
			AgentID:         r.AgentID,
			ExternalCallID:  r.ExternalCallID,
			Outcome:         r.Outcome,
			Transcript:      r.Transcript,
			RecordingURL:    r.RecordingURL,
			DurationSeconds: r.DurationSeconds,
			SentimentScore:  r.SentimentScore,
			ScoreDelta:      r.ScoreDelta,
			CreatedAt:       r.CreatedAt,
		})
	}
	if len(nextState) > 0 {
		resp.NextPage = common.EncodePageToken(nextState)
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

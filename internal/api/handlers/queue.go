package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/lead-call-queue/internal/domain"
	schedulesvc "github.com/acme/lead-call-queue/internal/service/schedule"
)

type scheduleCallRequest struct {
	LeadID        uuid.UUID      `json:"lead_id"`
	AgentID       uuid.UUID      `json:"agent_id"`
	Objective     string         `json:"objective"`
	ScheduledTime *time.Time     `json:"scheduled_time"`
	Priority      *int           `json:"priority"`
	CustomContext map[string]any `json:"custom_context"`
	RequestedBy   string         `json:"requested_by"`
}

type queueEntryResponse struct {
	ID             uuid.UUID          `json:"id"`
	LeadID         uuid.UUID          `json:"lead_id"`
	AgentID        uuid.UUID          `json:"agent_id"`
	ScheduledTime  time.Time          `json:"scheduled_time"`
	Objective      string             `json:"objective"`
	CustomContext  map[string]any     `json:"custom_context,omitempty"`
	Priority       int                `json:"priority"`
	Status         domain.QueueStatus `json:"status"`
	RetryCount     int                `json:"retry_count"`
	MaxRetries     int                `json:"max_retries"`
	ExternalCallID *string            `json:"external_call_id,omitempty"`
	ExecutedAt     *time.Time         `json:"executed_at,omitempty"`
	CreatedBy      string             `json:"created_by,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type listQueueResponse struct {
	Entries []queueEntryResponse `json:"entries"`
}

func (h *HandlerSet) scheduleCall(ctx *fiber.Ctx) error {
	var req scheduleCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.schedule.Schedule(ctx.Context(), schedulesvc.ScheduleCallInput{
		LeadID:        req.LeadID,
		AgentID:       req.AgentID,
		Objective:     req.Objective,
		ScheduledTime: req.ScheduledTime,
		Priority:      req.Priority,
		CustomContext: req.CustomContext,
		RequestedBy:   req.RequestedBy,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toQueueEntryResponse(entry))
}

func (h *HandlerSet) listQueue(ctx *fiber.Ctx) error {
	status := domain.QueueStatus(ctx.Query("status", string(domain.QueueStatusScheduled)))
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))

	entries, err := h.schedule.ListByStatus(ctx.Context(), status, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listQueueResponse{Entries: make([]queueEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, toQueueEntryResponse(entry))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getEntry(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid entry id")
	}

	entry, err := h.schedule.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toQueueEntryResponse(entry))
}

func (h *HandlerSet) cancelEntry(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid entry id")
	}

	if err := h.schedule.Cancel(ctx.Context(), id); err != nil {
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusNoContent)
}

func toQueueEntryResponse(entry *domain.QueueEntry) queueEntryResponse {
	return queueEntryResponse{
		ID:             entry.ID,
		LeadID:         entry.LeadID,
		AgentID:        entry.AgentID,
		ScheduledTime:  entry.ScheduledTime,
		Objective:      entry.Objective,
		CustomContext:  entry.CustomContext,
		Priority:       entry.Priority,
		Status:         entry.Status,
		RetryCount:     entry.RetryCount,
		MaxRetries:     entry.MaxRetries,
		ExternalCallID: entry.ExternalCallID,
		ExecutedAt:     entry.ExecutedAt,
		CreatedBy:      entry.CreatedBy,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
	}
}

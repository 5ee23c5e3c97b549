package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/repository"
)

const pgUniqueViolation = "23505"

// QueueRepository implements repository.QueueRepository using PostgreSQL.
//
// The single-active-entry invariant is enforced by a partial unique index:
//
//	CREATE UNIQUE INDEX call_queue_active_pair ON call_queue (lead_id, agent_id)
//	WHERE status IN ('scheduled', 'in_progress');
//
// so two concurrent inserts for the same pair are resolved by the database,
// not by a check-then-act in application code.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository constructs the repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Insert persists a new queue entry.
func (r *QueueRepository) Insert(ctx context.Context, entry *domain.QueueEntry) error {
	customContext, err := json.Marshal(entry.CustomContext)
	if err != nil {
		return fmt.Errorf("queue repo: marshal custom context: %w", err)
	}

	q := `INSERT INTO call_queue (
		id, lead_id, agent_id, scheduled_time, objective, custom_context,
		priority, status, retry_count, max_retries, created_by, created_at, updated_at
	) VALUES (
		:id, :lead_id, :agent_id, :scheduled_time, :objective, :custom_context,
		:priority, :status, :retry_count, :max_retries, :created_by, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":             entry.ID,
		"lead_id":        entry.LeadID,
		"agent_id":       entry.AgentID,
		"scheduled_time": entry.ScheduledTime,
		"objective":      entry.Objective,
		"custom_context": customContext,
		"priority":       entry.Priority,
		"status":         entry.Status,
		"retry_count":    entry.RetryCount,
		"max_retries":    entry.MaxRetries,
		"created_by":     entry.CreatedBy,
		"created_at":     entry.CreatedAt,
		"updated_at":     entry.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return repository.ErrConflict
		}
		return fmt.Errorf("queue repo: insert: %w", err)
	}

	return nil
}

// Get fetches a queue entry by id.
func (r *QueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	row := r.db.QueryRowxContext(ctx, selectEntry+` WHERE id = $1`, id)

	var record entryRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("queue repo: get: %w", err)
	}

	entry := record.toDomain()
	return &entry, nil
}

// GetByExternalCallID fetches the entry correlated with a provider call id.
func (r *QueueRepository) GetByExternalCallID(ctx context.Context, externalCallID string) (*domain.QueueEntry, error) {
	row := r.db.QueryRowxContext(ctx, selectEntry+` WHERE external_call_id = $1`, externalCallID)

	var record entryRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("queue repo: get by external call id: %w", err)
	}

	entry := record.toDomain()
	return &entry, nil
}

// DispatchReady returns due scheduled entries ordered by urgency then age.
func (r *QueueRepository) DispatchReady(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, selectEntry+`
		WHERE status = $1 AND scheduled_time <= $2
		ORDER BY priority ASC, scheduled_time ASC
		LIMIT $3`, domain.QueueStatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("queue repo: dispatch ready: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListByStatus returns entries filtered by status for the monitoring view.
func (r *QueueRepository) ListByStatus(ctx context.Context, status domain.QueueStatus, limit int) ([]*domain.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, selectEntry+`
		WHERE status = $1
		ORDER BY scheduled_time ASC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("queue repo: list by status: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// MarkDispatched transitions scheduled -> in_progress with a status guard.
func (r *QueueRepository) MarkDispatched(ctx context.Context, id uuid.UUID, externalCallID string, executedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE call_queue SET
			status = $1, external_call_id = $2, executed_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		domain.QueueStatusInProgress, externalCallID, executedAt, id, domain.QueueStatusScheduled)
	if err != nil {
		return fmt.Errorf("queue repo: mark dispatched: %w", err)
	}
	return r.guard(ctx, res, id)
}

// Cancel transitions scheduled -> cancelled.
func (r *QueueRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE call_queue SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		domain.QueueStatusCancelled, id, domain.QueueStatusScheduled)
	if err != nil {
		return fmt.Errorf("queue repo: cancel: %w", err)
	}
	return r.guard(ctx, res, id)
}

// Complete transitions in_progress -> completed.
func (r *QueueRepository) Complete(ctx context.Context, id uuid.UUID, webhookData map[string]any) error {
	payload, err := json.Marshal(webhookData)
	if err != nil {
		return fmt.Errorf("queue repo: marshal webhook data: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE call_queue SET status = $1, webhook_data = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		domain.QueueStatusCompleted, payload, id, domain.QueueStatusInProgress)
	if err != nil {
		return fmt.Errorf("queue repo: complete: %w", err)
	}
	return r.guard(ctx, res, id)
}

// Fail transitions in_progress -> failed.
func (r *QueueRepository) Fail(ctx context.Context, id uuid.UUID, webhookData map[string]any) error {
	payload, err := json.Marshal(webhookData)
	if err != nil {
		return fmt.Errorf("queue repo: marshal webhook data: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE call_queue SET status = $1, webhook_data = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		domain.QueueStatusFailed, payload, id, domain.QueueStatusInProgress)
	if err != nil {
		return fmt.Errorf("queue repo: fail: %w", err)
	}
	return r.guard(ctx, res, id)
}

// Requeue transitions in_progress -> scheduled for a retry attempt.
func (r *QueueRepository) Requeue(ctx context.Context, id uuid.UUID, retryCount int, nextAttempt time.Time, webhookData map[string]any) error {
	payload, err := json.Marshal(webhookData)
	if err != nil {
		return fmt.Errorf("queue repo: marshal webhook data: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE call_queue SET
			status = $1, retry_count = $2, scheduled_time = $3,
			external_call_id = NULL, webhook_data = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6 AND retry_count < max_retries`,
		domain.QueueStatusScheduled, retryCount, nextAttempt, payload, id, domain.QueueStatusInProgress)
	if err != nil {
		return fmt.Errorf("queue repo: requeue: %w", err)
	}
	return r.guard(ctx, res, id)
}

// RecordWebhookData refreshes the audit payload only.
func (r *QueueRepository) RecordWebhookData(ctx context.Context, id uuid.UUID, webhookData map[string]any) error {
	payload, err := json.Marshal(webhookData)
	if err != nil {
		return fmt.Errorf("queue repo: marshal webhook data: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE call_queue SET webhook_data = $1, updated_at = NOW()
		WHERE id = $2`, payload, id); err != nil {
		return fmt.Errorf("queue repo: record webhook data: %w", err)
	}
	return nil
}

// guard distinguishes a missing entry from a state-guard miss when a
// guarded UPDATE touched no rows.
func (r *QueueRepository) guard(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue repo: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowxContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM call_queue WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("queue repo: guard lookup: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrInvalidState
}

const selectEntry = `SELECT id, lead_id, agent_id, scheduled_time, objective, custom_context,
	priority, status, retry_count, max_retries, external_call_id, executed_at,
	webhook_data, created_by, created_at, updated_at
	FROM call_queue`

func scanEntries(rows *sqlx.Rows) ([]*domain.QueueEntry, error) {
	var results []*domain.QueueEntry
	for rows.Next() {
		var record entryRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("queue repo: scan: %w", err)
		}
		entry := record.toDomain()
		results = append(results, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue repo: rows err: %w", err)
	}

	return results, nil
}

type entryRecord struct {
	ID             uuid.UUID      `db:"id"`
	LeadID         uuid.UUID      `db:"lead_id"`
	AgentID        uuid.UUID      `db:"agent_id"`
	ScheduledTime  time.Time      `db:"scheduled_time"`
	Objective      string         `db:"objective"`
	CustomContext  []byte         `db:"custom_context"`
	Priority       int            `db:"priority"`
	Status         string         `db:"status"`
	RetryCount     int            `db:"retry_count"`
	MaxRetries     int            `db:"max_retries"`
	ExternalCallID sql.NullString `db:"external_call_id"`
	ExecutedAt     sql.NullTime   `db:"executed_at"`
	WebhookData    []byte         `db:"webhook_data"`
	CreatedBy      sql.NullString `db:"created_by"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r entryRecord) toDomain() domain.QueueEntry {
	var customContext map[string]any
	_ = json.Unmarshal(r.CustomContext, &customContext)
	var webhookData map[string]any
	_ = json.Unmarshal(r.WebhookData, &webhookData)

	entry := domain.QueueEntry{
		ID:            r.ID,
		LeadID:        r.LeadID,
		AgentID:       r.AgentID,
		ScheduledTime: r.ScheduledTime,
		Objective:     r.Objective,
		CustomContext: customContext,
		Priority:      r.Priority,
		Status:        domain.QueueStatus(r.Status),
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		WebhookData:   webhookData,
		CreatedBy:     r.CreatedBy.String,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ExternalCallID.Valid {
		v := r.ExternalCallID.String
		entry.ExternalCallID = &v
	}
	if r.ExecutedAt.Valid {
		t := r.ExecutedAt.Time
		entry.ExecutedAt = &t
	}
	return entry
}

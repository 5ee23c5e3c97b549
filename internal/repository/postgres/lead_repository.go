package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/repository"
)

// LeadRepository implements repository.LeadStore using PostgreSQL.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// GetLead fetches a lead with its preferences and recent notes.
func (r *LeadRepository) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT l.id, l.first_name, l.last_name, l.phone, l.status, l.score,
			p.budget_min, p.budget_max, p.bedrooms_min, p.preferred_areas
		FROM leads l
		LEFT JOIN lead_preferences p ON p.lead_id = l.id
		WHERE l.id = $1`, id)

	var record leadRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}

	lead := record.toDomain()

	notes, err := r.recentNotes(ctx, id)
	if err != nil {
		return nil, err
	}
	lead.Notes = notes

	return &lead, nil
}

// IncrementLeadScore applies the delta as an atomic server-side increment.
func (r *LeadRepository) IncrementLeadScore(ctx context.Context, id uuid.UUID, delta int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET score = score + $1, updated_at = NOW()
		WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("lead repo: increment score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lead repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *LeadRepository) recentNotes(ctx context.Context, leadID uuid.UUID) ([]domain.Note, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT content, created_at FROM notes
		WHERE lead_id = $1 ORDER BY created_at DESC LIMIT 3`, leadID)
	if err != nil {
		return nil, fmt.Errorf("lead repo: notes: %w", err)
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var note noteRecord
		if err := rows.StructScan(&note); err != nil {
			return nil, fmt.Errorf("lead repo: scan note: %w", err)
		}
		notes = append(notes, domain.Note{Content: note.Content, CreatedAt: note.CreatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: notes rows err: %w", err)
	}
	return notes, nil
}

type leadRecord struct {
	ID             uuid.UUID      `db:"id"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	Phone          string         `db:"phone"`
	Status         string         `db:"status"`
	Score          int            `db:"score"`
	BudgetMin      sql.NullInt64  `db:"budget_min"`
	BudgetMax      sql.NullInt64  `db:"budget_max"`
	BedroomsMin    sql.NullInt32  `db:"bedrooms_min"`
	PreferredAreas []byte         `db:"preferred_areas"`
}

type noteRecord struct {
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

func (r leadRecord) toDomain() domain.Lead {
	lead := domain.Lead{
		ID:        r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Status:    r.Status,
		Score:     r.Score,
	}

	if r.BudgetMin.Valid || r.BudgetMax.Valid || r.BedroomsMin.Valid || len(r.PreferredAreas) > 0 {
		prefs := &domain.LeadPreferences{}
		if r.BudgetMin.Valid {
			v := r.BudgetMin.Int64
			prefs.BudgetMin = &v
		}
		if r.BudgetMax.Valid {
			v := r.BudgetMax.Int64
			prefs.BudgetMax = &v
		}
		if r.BedroomsMin.Valid {
			v := int(r.BedroomsMin.Int32)
			prefs.BedroomsMin = &v
		}
		_ = json.Unmarshal(r.PreferredAreas, &prefs.PreferredAreas)
		lead.Preferences = prefs
	}

	return lead
}

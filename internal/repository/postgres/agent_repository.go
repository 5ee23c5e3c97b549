package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/repository"
)

// AgentRepository implements repository.AgentRegistry using PostgreSQL.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs the repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// GetAgent fetches an agent configuration by id.
func (r *AgentRepository) GetAgent(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, name, voice_id, script, external_agent_id, created_at, updated_at
		FROM ai_agents WHERE id = $1`, id)

	var record agentRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("agent repo: get: %w", err)
	}

	agent := record.toDomain()
	return &agent, nil
}

type agentRecord struct {
	ID              uuid.UUID      `db:"id"`
	Name            string         `db:"name"`
	VoiceID         sql.NullString `db:"voice_id"`
	Script          sql.NullString `db:"script"`
	ExternalAgentID sql.NullString `db:"external_agent_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r agentRecord) toDomain() domain.Agent {
	agent := domain.Agent{
		ID:        r.ID,
		Name:      r.Name,
		VoiceID:   r.VoiceID.String,
		Script:    r.Script.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ExternalAgentID.Valid && r.ExternalAgentID.String != "" {
		v := r.ExternalAgentID.String
		agent.ExternalAgentID = &v
	}
	return agent
}

package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/lead-call-queue/internal/domain"
)

// CallRecordStore persists immutable call records in Scylla.
//
// Records are written once by the reconciler and never mutated; the
// call-history view reads them back partitioned by lead.
type CallRecordStore struct {
	session *gocql.Session
}

// NewCallRecordStore creates a new store.
func NewCallRecordStore(session *gocql.Session) *CallRecordStore {
	return &CallRecordStore{session: session}
}

// Append inserts a call record.
func (s *CallRecordStore) Append(ctx context.Context, record *domain.CallRecord) error {
	bucket := bucketDate(record.CreatedAt)
	if err := s.session.Query(`INSERT INTO call_records_by_lead (
			lead_id, bucket, record_id, entry_id, agent_id, external_call_id,
			outcome, transcript, recording_url, duration_seconds, sentiment_score, score_delta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.LeadID.String(), bucket, record.ID.String(), record.EntryID.String(), record.AgentID.String(),
		record.ExternalCallID, string(record.Outcome), record.Transcript, record.RecordingURL,
		record.DurationSeconds, record.SentimentScore, record.ScoreDelta, record.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call record store: insert call_records_by_lead: %w", err)
	}

	if err := s.session.Query(`INSERT INTO call_records_by_call (
			external_call_id, record_id, lead_id, entry_id, created_at
		) VALUES (?, ?, ?, ?, ?)`,
		record.ExternalCallID, record.ID.String(), record.LeadID.String(), record.EntryID.String(), record.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call record store: insert call_records_by_call: %w", err)
	}

	return nil
}

// ListByLead lists call records for a lead with pagination.
func (s *CallRecordStore) ListByLead(ctx context.Context, leadID uuid.UUID, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.session.Query(`SELECT bucket, record_id, entry_id, agent_id, external_call_id,
			outcome, transcript, recording_url, duration_seconds, sentiment_score, score_delta, created_at
		FROM call_records_by_lead WHERE lead_id = ?`, leadID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	records := make([]domain.CallRecord, 0, limit)

	var (
		bucket          time.Time
		recordIDStr     string
		entryIDStr      string
		agentIDStr      string
		externalCallID  string
		outcome         string
		transcript      string
		recordingURL    string
		durationSeconds int
		sentimentScore  float64
		scoreDelta      int
		created         time.Time
	)

	for iter.Scan(&bucket, &recordIDStr, &entryIDStr, &agentIDStr, &externalCallID,
		&outcome, &transcript, &recordingURL, &durationSeconds, &sentimentScore, &scoreDelta, &created) {
		recordID, err := uuid.Parse(recordIDStr)
		if err != nil {
			continue
		}
		entryID, err := uuid.Parse(entryIDStr)
		if err != nil {
			continue
		}
		agentID, err := uuid.Parse(agentIDStr)
		if err != nil {
			continue
		}

		records = append(records, domain.CallRecord{
			ID:              recordID,
			EntryID:         entryID,
			LeadID:          leadID,
			AgentID:         agentID,
			ExternalCallID:  externalCallID,
			Outcome:         domain.CallOutcome(outcome),
			Transcript:      transcript,
			RecordingURL:    recordingURL,
			DurationSeconds: durationSeconds,
			SentimentScore:  sentimentScore,
			ScoreDelta:      scoreDelta,
			CreatedAt:       created,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call record store: iter close: %w", err)
	}

	nextState := iter.PageState()

	return records, nextState, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

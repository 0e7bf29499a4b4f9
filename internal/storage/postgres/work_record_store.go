package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/academyhq/academy/internal/domain"
)

// WorkRecordStore keeps work records for one learner in PostgreSQL
type WorkRecordStore struct {
	pool      *pgxpool.Pool
	learnerID string
}

// NewWorkRecordStore creates a store scoped to learnerID
func NewWorkRecordStore(pool *pgxpool.Pool, learnerID string) *WorkRecordStore {
	return &WorkRecordStore{pool: pool, learnerID: learnerID}
}

// Get retrieves the serialized record for an assignment
func (s *WorkRecordStore) Get(ctx context.Context, assignmentID string) ([]byte, error) {
	query := `SELECT data FROM work_records WHERE learner_id = $1 AND assignment_id = $2`

	var data []byte
	err := s.pool.QueryRow(ctx, query, s.learnerID, assignmentID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work record: %w", err)
	}
	return data, nil
}

// Put upserts the serialized record for an assignment
func (s *WorkRecordStore) Put(ctx context.Context, assignmentID string, data []byte) error {
	query := `
		INSERT INTO work_records (learner_id, assignment_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (learner_id, assignment_id) DO UPDATE SET
			data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, s.learnerID, assignmentID, data); err != nil {
		return fmt.Errorf("upsert work record: %w", err)
	}
	return nil
}

// Delete removes the record for an assignment
func (s *WorkRecordStore) Delete(ctx context.Context, assignmentID string) error {
	query := `DELETE FROM work_records WHERE learner_id = $1 AND assignment_id = $2`
	if _, err := s.pool.Exec(ctx, query, s.learnerID, assignmentID); err != nil {
		return fmt.Errorf("delete work record: %w", err)
	}
	return nil
}

// List returns assignment ids with a stored record, most recent first
func (s *WorkRecordStore) List(ctx context.Context) ([]string, error) {
	query := `
		SELECT assignment_id FROM work_records
		WHERE learner_id = $1
		ORDER BY updated_at DESC, assignment_id
	`
	rows, err := s.pool.Query(ctx, query, s.learnerID)
	if err != nil {
		return nil, fmt.Errorf("list work records: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list work records: %w", err)
	}
	return ids, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/academyhq/academy/internal/domain"
)

// WorkRecordStore keeps serialized work records for one learner.
type WorkRecordStore struct {
	db        *DB
	learnerID string
}

// NewWorkRecordStore creates a SQLite-backed record store scoped to learnerID.
func NewWorkRecordStore(db *DB, learnerID string) *WorkRecordStore {
	return &WorkRecordStore{db: db, learnerID: learnerID}
}

// Get returns the stored record for an assignment.
func (s *WorkRecordStore) Get(ctx context.Context, assignmentID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM work_records WHERE learner_id = ? AND assignment_id = ?",
		s.learnerID, assignmentID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work record: %w", err)
	}
	return data, nil
}

// Put inserts or replaces the record for an assignment.
func (s *WorkRecordStore) Put(ctx context.Context, assignmentID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_records (learner_id, assignment_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(learner_id, assignment_id) DO UPDATE SET
			data=excluded.data, updated_at=excluded.updated_at`,
		s.learnerID, assignmentID, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert work record: %w", err)
	}
	return nil
}

// Delete removes the record for an assignment. Deleting a missing record is not an error.
func (s *WorkRecordStore) Delete(ctx context.Context, assignmentID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM work_records WHERE learner_id = ? AND assignment_id = ?",
		s.learnerID, assignmentID,
	)
	if err != nil {
		return fmt.Errorf("delete work record: %w", err)
	}
	return nil
}

// List returns the assignment ids with a stored record, most recently updated first.
func (s *WorkRecordStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT assignment_id FROM work_records WHERE learner_id = ? ORDER BY updated_at DESC, assignment_id",
		s.learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list work records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan work record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

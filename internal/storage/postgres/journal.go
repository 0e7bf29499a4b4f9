package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/academyhq/academy/internal/domain"
)

// Journal is an append-only log of progress events
type Journal struct {
	db *sql.DB
}

// OpenJournal connects to the journal database
func OpenJournal(ctx context.Context, dsn string) (*Journal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return NewJournal(db), nil
}

// NewJournal wraps an existing connection
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Close closes the underlying connection
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores an event; redelivered events are ignored
func (j *Journal) Append(ctx context.Context, ev domain.ProgressEvent) error {
	var payload pqtype.NullRawMessage
	if len(ev.Payload) > 0 {
		payload = pqtype.NullRawMessage{RawMessage: json.RawMessage(ev.Payload), Valid: true}
	}

	query := `
		INSERT INTO progress_events (id, event_type, learner_id, assignment_id, exercise_id, block_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := j.db.ExecContext(ctx, query,
		ev.ID, string(ev.Type), ev.LearnerID, ev.AssignmentID,
		nullString(ev.ExerciseID), nullString(ev.BlockID), payload, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert progress event: %w", err)
	}
	return nil
}

// ListByAssignment returns a learner's events for one assignment, oldest first
func (j *Journal) ListByAssignment(ctx context.Context, learnerID, assignmentID string, limit int) ([]domain.ProgressEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_type, learner_id, assignment_id, exercise_id, block_id, payload, occurred_at
		FROM progress_events
		WHERE learner_id = $1 AND assignment_id = $2
		ORDER BY occurred_at, recorded_at
		LIMIT $3
	`
	rows, err := j.db.QueryContext(ctx, query, learnerID, assignmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list progress events: %w", err)
	}
	defer rows.Close()

	var events []domain.ProgressEvent
	for rows.Next() {
		var (
			ev        domain.ProgressEvent
			typ       string
			exercise  sql.NullString
			block     sql.NullString
			payload   pqtype.NullRawMessage
			eventUUID uuid.UUID
		)
		if err := rows.Scan(&eventUUID, &typ, &ev.LearnerID, &ev.AssignmentID, &exercise, &block, &payload, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan progress event: %w", err)
		}
		ev.ID = eventUUID
		ev.Type = domain.EventType(typ)
		ev.ExerciseID = exercise.String
		ev.BlockID = block.String
		if payload.Valid {
			ev.Payload = payload.RawMessage
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

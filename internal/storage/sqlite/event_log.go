package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/academyhq/academy/internal/domain"
	"github.com/google/uuid"
)

// EventLog records progress events in SQLite.
type EventLog struct {
	db *DB
}

// NewEventLog creates a new SQLite-backed event log.
func NewEventLog(db *DB) *EventLog {
	return &EventLog{db: db}
}

// Append stores an event. Appending an event id twice is a no-op.
func (l *EventLog) Append(ctx context.Context, ev domain.ProgressEvent) error {
	var payload sql.NullString
	if len(ev.Payload) > 0 {
		payload = sql.NullString{String: string(ev.Payload), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO progress_events (id, event_type, learner_id, assignment_id, exercise_id, block_id, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID.String(), string(ev.Type), ev.LearnerID, ev.AssignmentID,
		ev.ExerciseID, ev.BlockID, payload, ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert progress event: %w", err)
	}
	return nil
}

// Handle appends ev, logging failures. It can be subscribed to an
// EventDispatcher.
func (l *EventLog) Handle(ev domain.ProgressEvent) {
	if err := l.Append(context.Background(), ev); err != nil {
		slog.Warn("failed to log progress event", "type", ev.Type, "error", err)
	}
}

// EventQuery filters events; zero fields match everything.
type EventQuery struct {
	AssignmentID string
	Type         domain.EventType
	Since        time.Time
	Until        time.Time
	Limit        int
}

// Query returns events matching q, newest first.
func (l *EventLog) Query(ctx context.Context, q EventQuery) ([]domain.ProgressEvent, error) {
	query := `SELECT id, event_type, learner_id, assignment_id, exercise_id, block_id, payload, occurred_at
		FROM progress_events WHERE 1=1`
	var args []any

	if q.AssignmentID != "" {
		query += " AND assignment_id = ?"
		args = append(args, q.AssignmentID)
	}
	if q.Type != "" {
		query += " AND event_type = ?"
		args = append(args, string(q.Type))
	}
	if !q.Since.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, q.Until.UTC())
	}
	query += " ORDER BY occurred_at DESC, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query progress events: %w", err)
	}
	defer rows.Close()

	var events []domain.ProgressEvent
	for rows.Next() {
		var (
			ev      domain.ProgressEvent
			id      string
			typ     string
			payload sql.NullString
		)
		if err := rows.Scan(&id, &typ, &ev.LearnerID, &ev.AssignmentID, &ev.ExerciseID, &ev.BlockID, &payload, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan progress event: %w", err)
		}
		ev.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", id, err)
		}
		ev.Type = domain.EventType(typ)
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of events of the given type.
func (l *EventLog) Count(ctx context.Context, eventType domain.EventType) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM progress_events WHERE event_type = ?", string(eventType),
	).Scan(&count)
	return count, err
}

// Prune deletes events older than the given duration.
func (l *EventLog) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := l.db.ExecContext(ctx, "DELETE FROM progress_events WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune progress events: %w", err)
	}
	return result.RowsAffected()
}

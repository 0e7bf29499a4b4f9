package domain

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a progress event
type EventType string

const (
	EventAssignmentStarted   EventType = "assignment.started"
	EventAssignmentCompleted EventType = "assignment.completed"
	EventAssignmentReset     EventType = "assignment.reset"
	EventExerciseStarted     EventType = "exercise.started"
	EventStepMarked          EventType = "step.marked"
	EventStepUnmarked        EventType = "step.unmarked"
	EventAnswerRecorded      EventType = "answer.recorded"
	EventCodeRecorded        EventType = "code.recorded"
	EventCheckToggled        EventType = "verification.toggled"
	EventHintRevealed        EventType = "hint.revealed"
	EventSolutionRevealed    EventType = "solution.revealed"
	EventTimeAccrued         EventType = "time.accrued"
)

// ProgressEvent records one persisted mutation of a work record
type ProgressEvent struct {
	ID           uuid.UUID       `json:"id"`
	Type         EventType       `json:"type"`
	LearnerID    string          `json:"learner_id"`
	AssignmentID string          `json:"assignment_id"`
	ExerciseID   string          `json:"exercise_id,omitempty"`
	BlockID      string          `json:"block_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// NewProgressEvent creates an event with a fresh id
func NewProgressEvent(t EventType, assignmentID, exerciseID, blockID string) ProgressEvent {
	return ProgressEvent{
		ID:           uuid.New(),
		Type:         t,
		AssignmentID: assignmentID,
		ExerciseID:   exerciseID,
		BlockID:      blockID,
		OccurredAt:   time.Now().UTC(),
	}
}

// WithPayload attaches a JSON payload; values that fail to encode are dropped
func (e ProgressEvent) WithPayload(v any) ProgressEvent {
	if data, err := json.Marshal(v); err == nil {
		e.Payload = data
	}
	return e
}

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes progress events
type EventHandler func(event ProgressEvent)

// EventDispatcher fans progress events out to subscribers
type EventDispatcher struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (d *EventDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (d *EventDispatcher) SubscribeAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allHandlers = append(d.allHandlers, handler)
}

// Publish dispatches an event to all registered handlers
func (d *EventDispatcher) Publish(event ProgressEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, h := range d.handlers[event.Type] {
		h(event)
	}
	for _, h := range d.allHandlers {
		h(event)
	}
}

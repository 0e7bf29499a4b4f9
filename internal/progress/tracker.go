package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/academyhq/academy/internal/domain"
)

// RecordStore persists serialized work records keyed by assignment id.
// Get returns an error matching domain.ErrNotFound when the key is absent.
type RecordStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// AssignmentSource resolves assignment definitions by id
type AssignmentSource interface {
	Assignment(ctx context.Context, id string) (*domain.Assignment, error)
}

// Publisher receives an event after every persisted mutation
type Publisher interface {
	Publish(event domain.ProgressEvent)
}

// TrackerConfig configures a Tracker
type TrackerConfig struct {
	// LearnerID is stamped on published events
	LearnerID string
	// Source enables validation of exercise and step ids; optional
	Source AssignmentSource
	// Events receives progress events; optional
	Events Publisher
	// Now overrides the clock; defaults to time.Now
	Now func() time.Time
}

// TimeTotals reports accrued time after an update
type TimeTotals struct {
	AssignmentSeconds int `json:"assignment_seconds"`
	ExerciseSeconds   int `json:"exercise_seconds"`
}

// Tracker is the work record store. All mutations are serialized: each one
// reads the current record from the RecordStore, applies its change and
// persists it. Nothing is cached between calls, so several trackers over one
// store see each other's writes. A failed persist leaves the stored state
// authoritative.
type Tracker struct {
	store     RecordStore
	source    AssignmentSource
	events    Publisher
	learnerID string
	now       func() time.Time

	mu     sync.Mutex
	epochs map[string]uint64
}

// NewTracker creates a tracker over store
func NewTracker(store RecordStore, cfg TrackerConfig) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:     store,
		source:    cfg.Source,
		events:    cfg.Events,
		learnerID: cfg.LearnerID,
		now:       now,
		epochs:    make(map[string]uint64),
	}
}

// MutationOption adjusts how a single mutation is applied
type MutationOption func(*mutation)

type mutation struct {
	epoch    uint64
	hasEpoch bool
}

// IfEpoch applies the mutation only if the assignment has not been reset
// since epoch was observed. Otherwise the call fails with ErrStaleResult.
func IfEpoch(epoch uint64) MutationOption {
	return func(m *mutation) {
		m.epoch = epoch
		m.hasEpoch = true
	}
}

// Epoch returns the reset generation of an assignment
func (t *Tracker) Epoch(assignmentID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epochs[assignmentID]
}

// Get returns the work record for an assignment, materializing a default
// one if none is stored. It never writes to the store.
func (t *Tracker) Get(ctx context.Context, assignmentID string) (*domain.WorkRecord, error) {
	if err := validateID(assignmentID); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx, assignmentID)
}

// List returns the ids of all stored work records
func (t *Tracker) List(ctx context.Context) ([]string, error) {
	ids, err := t.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list work records: %w", err)
	}
	return ids, nil
}

// StartAssignment promotes a not-started record to in progress
func (t *Tracker) StartAssignment(ctx context.Context, assignmentID string, opts ...MutationOption) (*domain.WorkRecord, error) {
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		if w.Status != domain.StatusNotStarted {
			return nil, nil
		}
		t.start(w)
		ev := domain.NewProgressEvent(domain.EventAssignmentStarted, assignmentID, "", "")
		return &ev, nil
	})
}

// StartExercise ensures the exercise record exists and is in progress, and
// promotes the assignment if it has not been started.
func (t *Tracker) StartExercise(ctx context.Context, assignmentID, exerciseID string, opts ...MutationOption) (*domain.WorkRecord, error) {
	if err := t.checkExercise(ctx, assignmentID, exerciseID); err != nil {
		return nil, err
	}
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		ex := w.Exercise(exerciseID)
		if w.Status == domain.StatusNotStarted {
			t.start(w)
		}
		if ex.Status != domain.StatusNotStarted {
			return nil, nil
		}
		ex.Status = ex.Status.Advance(domain.StatusInProgress)
		ev := domain.NewProgressEvent(domain.EventExerciseStarted, assignmentID, exerciseID, "")
		return &ev, nil
	})
}

// MarkStepDone adds stepID to the exercise's completed steps
func (t *Tracker) MarkStepDone(ctx context.Context, assignmentID, exerciseID, stepID string, opts ...MutationOption) (*domain.WorkRecord, error) {
	if err := t.checkStep(ctx, assignmentID, exerciseID, stepID); err != nil {
		return nil, err
	}
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		if !w.Exercise(exerciseID).StepsCompleted.Add(stepID) {
			return nil, nil
		}
		ev := domain.NewProgressEvent(domain.EventStepMarked, assignmentID, exerciseID, stepID)
		return &ev, nil
	})
}

// UnmarkStepDone removes stepID from the exercise's completed steps
func (t *Tracker) UnmarkStepDone(ctx context.Context, assignmentID, exerciseID, stepID string, opts ...MutationOption) (*domain.WorkRecord, error) {
	if err := t.checkStep(ctx, assignmentID, exerciseID, stepID); err != nil {
		return nil, err
	}
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		if !w.Exercise(exerciseID).StepsCompleted.Remove(stepID) {
			return nil, nil
		}
		ev := domain.NewProgressEvent(domain.EventStepUnmarked, assignmentID, exerciseID, stepID)
		return &ev, nil
	})
}

// RecordWriteItDownAnswer upserts the answer for blockID. The first
// submission starts at one attempt; each later one increments it.
func (t *Tracker) RecordWriteItDownAnswer(ctx context.Context, assignmentID, exerciseID, blockID, answer string, correct *bool, feedback *string, opts ...MutationOption) (*domain.WorkRecord, error) {
	if err := t.checkExercise(ctx, assignmentID, exerciseID); err != nil {
		return nil, err
	}
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		ex := w.Exercise(exerciseID)
		rec, ok := ex.WriteItDownAnswers[blockID]
		if ok {
			rec.Attempts++
		} else {
			rec.Attempts = 1
		}
		rec.Answer = answer
		rec.Correct = copyPtr(correct)
		rec.Feedback = copyPtr(feedback)
		ex.WriteItDownAnswers[blockID] = rec

		ev := domain.NewProgressEvent(domain.EventAnswerRecorded, assignmentID, exerciseID, blockID).
			WithPayload(map[string]any{"attempts": rec.Attempts, "correct": rec.Correct})
		return &ev, nil
	})
}

// RecordCodeSubmission upserts the code submission for blockID
func (t *Tracker) RecordCodeSubmission(ctx context.Context, assignmentID, exerciseID, blockID, code string, feedback *string, score *int, opts ...MutationOption) (*domain.WorkRecord, error) {
	if err := t.checkExercise(ctx, assignmentID, exerciseID); err != nil {
		return nil, err
	}
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		w.Exercise(exerciseID).CodeSubmissions[blockID] = domain.CodeSubmission{
			Code:     code,
			Feedback: copyPtr(feedback),
			Score:    copyPtr(score),
		}
		ev := domain.NewProgressEvent(domain.EventCodeRecorded, assignmentID, exerciseID, blockID).
			WithPayload(map[string]any{"score": score})
		return &ev, nil
	})
}

// CheckVerificationStep adds key (see domain.VerificationKey) to the
// exercise's verification checks
func (t *Tracker) CheckVerificationStep(ctx context.Context, assignmentID, exerciseID, key string, opts ...MutationOption) (*domain.WorkRecord, error) {
	return t.toggleCheck(ctx, assignmentID, exerciseID, key, true, opts)
}

// UncheckVerificationStep removes key from the exercise's verification checks
func (t *Tracker) UncheckVerificationStep(ctx context.Context, assignmentID, exerciseID, key string, opts ...MutationOption) (*domain.WorkRecord, error) {
	return t.toggleCheck(ctx, assignmentID, exerciseID, key, false, opts)
}

func (t *Tracker) toggleCheck(ctx context.Context, assignmentID, exerciseID, key string, checked bool, opts []MutationOption) (*domain.WorkRecord, error) {
	if err := t.checkExercise(ctx, assignmentID, exerciseID); err != nil {
		return nil, err
	}
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		checks := w.Exercise(exerciseID).VerificationChecks
		var changed bool
		if checked {
			changed = checks.Add(key)
		} else {
			changed = checks.Remove(key)
		}
		if !changed {
			return nil, nil
		}
		ev := domain.NewProgressEvent(domain.EventCheckToggled, assignmentID, exerciseID, key).
			WithPayload(map[string]bool{"checked": checked})
		return &ev, nil
	})
}

// RevealHint increments the exercise and assignment hint counters together.
// It does not clamp against the number of hints available.
func (t *Tracker) RevealHint(ctx context.Context, assignmentID, exerciseID string, opts ...MutationOption) (*domain.WorkRecord, error) {
	if err := t.checkExercise(ctx, assignmentID, exerciseID); err != nil {
		return nil, err
	}
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		ex := w.Exercise(exerciseID)
		ex.HintsRevealed++
		w.TotalHintsUsed++
		ev := domain.NewProgressEvent(domain.EventHintRevealed, assignmentID, exerciseID, "").
			WithPayload(map[string]int{"hints_revealed": ex.HintsRevealed})
		return &ev, nil
	})
}

// RevealSolutionStep increments the exercise and assignment reveal counters together
func (t *Tracker) RevealSolutionStep(ctx context.Context, assignmentID, exerciseID string, opts ...MutationOption) (*domain.WorkRecord, error) {
	if err := t.checkExercise(ctx, assignmentID, exerciseID); err != nil {
		return nil, err
	}
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		ex := w.Exercise(exerciseID)
		ex.SolutionStepsRevealed++
		w.TotalSolutionReveals++
		ev := domain.NewProgressEvent(domain.EventSolutionRevealed, assignmentID, exerciseID, "").
			WithPayload(map[string]int{"solution_steps_revealed": ex.SolutionStepsRevealed})
		return &ev, nil
	})
}

// UpdateTimeSpent adds deltaSeconds to the assignment and exercise totals.
// Non-positive deltas are ignored.
func (t *Tracker) UpdateTimeSpent(ctx context.Context, assignmentID, exerciseID string, deltaSeconds int, opts ...MutationOption) (TimeTotals, error) {
	if deltaSeconds <= 0 {
		w, err := t.Get(ctx, assignmentID)
		if err != nil {
			return TimeTotals{}, err
		}
		return totalsOf(w, exerciseID), nil
	}
	if err := t.checkExercise(ctx, assignmentID, exerciseID); err != nil {
		return TimeTotals{}, err
	}
	w, err := t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		w.TotalTimeSpentSeconds += deltaSeconds
		w.Exercise(exerciseID).TimeSpentSeconds += deltaSeconds
		ev := domain.NewProgressEvent(domain.EventTimeAccrued, assignmentID, exerciseID, "").
			WithPayload(map[string]int{"delta_seconds": deltaSeconds})
		return &ev, nil
	})
	if err != nil {
		return TimeTotals{}, err
	}
	return totalsOf(w, exerciseID), nil
}

// CompleteAssignment marks the assignment completed and stamps CompletedAt
// once. The completion predicate is the caller's responsibility.
func (t *Tracker) CompleteAssignment(ctx context.Context, assignmentID string, opts ...MutationOption) (*domain.WorkRecord, error) {
	return t.mutate(ctx, assignmentID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		if w.Status == domain.StatusCompleted {
			return nil, nil
		}
		now := t.now().UTC()
		if w.StartedAt == nil {
			w.StartedAt = &now
		}
		w.Status = w.Status.Advance(domain.StatusCompleted)
		if w.CompletedAt == nil {
			w.CompletedAt = &now
		}
		ev := domain.NewProgressEvent(domain.EventAssignmentCompleted, assignmentID, "", "")
		return &ev, nil
	})
}

// CompleteIfReady completes the assignment when CanComplete holds for the
// current record and returns ErrNotCompletable otherwise.
func (t *Tracker) CompleteIfReady(ctx context.Context, a *domain.Assignment, opts ...MutationOption) (*domain.WorkRecord, error) {
	return t.mutate(ctx, a.ID, opts, func(w *domain.WorkRecord) (*domain.ProgressEvent, error) {
		if w.Status == domain.StatusCompleted {
			return nil, nil
		}
		if !CanComplete(a, w) {
			return nil, ErrNotCompletable
		}
		now := t.now().UTC()
		if w.StartedAt == nil {
			w.StartedAt = &now
		}
		w.Status = w.Status.Advance(domain.StatusCompleted)
		if w.CompletedAt == nil {
			w.CompletedAt = &now
		}
		ev := domain.NewProgressEvent(domain.EventAssignmentCompleted, a.ID, "", "")
		return &ev, nil
	})
}

// Reset deletes the stored record and bumps the assignment epoch so that
// results captured before the reset are rejected.
func (t *Tracker) Reset(ctx context.Context, assignmentID string) error {
	if err := validateID(assignmentID); err != nil {
		return err
	}
	t.mu.Lock()
	if err := t.store.Delete(ctx, assignmentID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		t.mu.Unlock()
		return fmt.Errorf("delete work record: %w", err)
	}
	t.epochs[assignmentID]++
	t.mu.Unlock()

	t.publish(domain.NewProgressEvent(domain.EventAssignmentReset, assignmentID, "", ""))
	return nil
}

type mutateFunc func(w *domain.WorkRecord) (*domain.ProgressEvent, error)

func (t *Tracker) mutate(ctx context.Context, assignmentID string, opts []MutationOption, fn mutateFunc) (*domain.WorkRecord, error) {
	if err := validateID(assignmentID); err != nil {
		return nil, err
	}
	var m mutation
	for _, opt := range opts {
		opt(&m)
	}

	t.mu.Lock()
	if m.hasEpoch && m.epoch != t.epochs[assignmentID] {
		t.mu.Unlock()
		return nil, ErrStaleResult
	}

	next, err := t.load(ctx, assignmentID)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	ev, err := fn(next)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	next.UpdatedAt = t.now().UTC()

	data, err := domain.EncodeWorkRecord(next)
	if err == nil {
		err = t.store.Put(ctx, assignmentID, data)
	}
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("persist work record: %w", err)
	}
	out := next.Clone()
	t.mu.Unlock()

	if ev != nil {
		t.publish(*ev)
	}
	return out, nil
}

// load reads the current record from the store, or a default one when it is
// absent or unreadable. Must be called with t.mu held.
func (t *Tracker) load(ctx context.Context, assignmentID string) (*domain.WorkRecord, error) {
	data, err := t.store.Get(ctx, assignmentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.NewWorkRecord(assignmentID), nil
	case err != nil:
		return nil, fmt.Errorf("load work record: %w", err)
	}

	w, err := domain.DecodeWorkRecord(data)
	if err != nil || w.AssignmentID != assignmentID {
		slog.Warn("discarding unreadable work record", "assignment_id", assignmentID, "error", err)
		w = domain.NewWorkRecord(assignmentID)
	}
	return w, nil
}

func (t *Tracker) start(w *domain.WorkRecord) {
	w.Status = w.Status.Advance(domain.StatusInProgress)
	if w.StartedAt == nil {
		now := t.now().UTC()
		w.StartedAt = &now
	}
}

func (t *Tracker) publish(ev domain.ProgressEvent) {
	if t.events == nil {
		return
	}
	ev.LearnerID = t.learnerID
	t.events.Publish(ev)
}

func (t *Tracker) checkExercise(ctx context.Context, assignmentID, exerciseID string) error {
	if strings.TrimSpace(exerciseID) == "" {
		return fmt.Errorf("exercise id: %w", domain.ErrInvalidInput)
	}
	if t.source == nil {
		return nil
	}
	a, err := t.source.Assignment(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("resolve assignment %s: %w", assignmentID, err)
	}
	for _, ex := range a.Exercises() {
		if ex.ExerciseID == exerciseID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownExercise, exerciseID)
}

func (t *Tracker) checkStep(ctx context.Context, assignmentID, exerciseID, stepID string) error {
	if err := t.checkExercise(ctx, assignmentID, exerciseID); err != nil {
		return err
	}
	if strings.TrimSpace(stepID) == "" {
		return fmt.Errorf("step id: %w", domain.ErrInvalidInput)
	}
	if t.source == nil {
		return nil
	}
	a, err := t.source.Assignment(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("resolve assignment %s: %w", assignmentID, err)
	}
	if !a.HasStep(exerciseID, stepID) {
		return fmt.Errorf("%w: %s in %s", ErrUnknownStep, stepID, exerciseID)
	}
	return nil
}

func validateID(assignmentID string) error {
	if strings.TrimSpace(assignmentID) == "" {
		return fmt.Errorf("assignment id: %w", domain.ErrInvalidInput)
	}
	return nil
}

func totalsOf(w *domain.WorkRecord, exerciseID string) TimeTotals {
	totals := TimeTotals{AssignmentSeconds: w.TotalTimeSpentSeconds}
	if ex, ok := w.Exercises[exerciseID]; ok {
		totals.ExerciseSeconds = ex.TimeSpentSeconds
	}
	return totals
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

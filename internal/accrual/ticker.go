// Package accrual credits wall-clock study time to the exercise the learner
// is currently working on.
package accrual

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/academyhq/academy/internal/progress"
)

const (
	// DefaultPeriod is the interval between ticks
	DefaultPeriod = 10 * time.Second
	// DefaultMaxGap is the largest delta credited; longer gaps mean the
	// process was suspended and are discarded
	DefaultMaxGap = 60 * time.Second
)

// ErrAlreadyRunning is returned when Run is called on a ticker that has
// already been started. A Ticker runs at most once.
var ErrAlreadyRunning = errors.New("ticker already started")

// Target identifies an exercise within an assignment
type Target struct {
	AssignmentID string `json:"assignment_id"`
	ExerciseID   string `json:"exercise_id"`
}

// ActiveSource reports the exercise that should receive accrued time
type ActiveSource interface {
	Active() (Target, bool)
}

// TimeUpdater receives credited time
type TimeUpdater interface {
	UpdateTimeSpent(ctx context.Context, assignmentID, exerciseID string, deltaSeconds int, opts ...progress.MutationOption) (progress.TimeTotals, error)
}

var _ TimeUpdater = (*progress.Tracker)(nil)

// Config configures a Ticker
type Config struct {
	Period time.Duration
	MaxGap time.Duration
	// Now overrides the clock; defaults to time.Now
	Now func() time.Time
}

// Ticker periodically measures elapsed time and attributes it to the
// active exercise
type Ticker struct {
	updater TimeUpdater
	active  ActiveSource
	period  time.Duration
	maxGap  time.Duration
	now     func() time.Time

	mu       sync.Mutex
	lastTick time.Time
	started  atomic.Bool
	done     chan struct{}
}

// NewTicker creates a ticker; zero config values take the defaults
func NewTicker(updater TimeUpdater, active ActiveSource, cfg Config) *Ticker {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = DefaultMaxGap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ticker{
		updater: updater,
		active:  active,
		period:  cfg.Period,
		maxGap:  cfg.MaxGap,
		now:     cfg.Now,
		done:    make(chan struct{}),
	}
}

// Run ticks until ctx is cancelled. It returns ctx.Err(), or
// ErrAlreadyRunning on a second call.
func (t *Ticker) Run(ctx context.Context) error {
	return t.run(ctx, nil)
}

// run drives ticks from ch, or from a time.Ticker when ch is nil
func (t *Ticker) run(ctx context.Context, ch <-chan time.Time) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(t.done)

	if ch == nil {
		tk := time.NewTicker(t.period)
		defer tk.Stop()
		ch = tk.C
	}

	t.mu.Lock()
	t.lastTick = t.now()
	t.mu.Unlock()

	slog.Debug("time accrual started", "period", t.period)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("time accrual stopped")
			return ctx.Err()
		case <-ch:
			t.Tick(ctx)
		}
	}
}

// Done is closed once Run has returned
func (t *Ticker) Done() <-chan struct{} {
	return t.done
}

// Tick performs one accrual step and reports the seconds credited
func (t *Ticker) Tick(ctx context.Context) int {
	now := t.now()

	t.mu.Lock()
	delta := now.Sub(t.lastTick)
	t.lastTick = now
	t.mu.Unlock()

	if delta <= 0 || delta >= t.maxGap {
		if delta >= t.maxGap {
			slog.Debug("discarding tick after suspension", "gap", delta)
		}
		return 0
	}

	target, ok := t.active.Active()
	if !ok {
		return 0
	}

	seconds := int(math.Round(delta.Seconds()))
	if seconds <= 0 {
		return 0
	}
	if _, err := t.updater.UpdateTimeSpent(ctx, target.AssignmentID, target.ExerciseID, seconds); err != nil {
		slog.Warn("failed to record time spent",
			"assignment_id", target.AssignmentID,
			"exercise_id", target.ExerciseID,
			"error", err,
		)
		return 0
	}
	return seconds
}

// ActiveExercise is a thread-safe ActiveSource set by the host
type ActiveExercise struct {
	mu     sync.RWMutex
	target Target
	set    bool
}

var _ ActiveSource = (*ActiveExercise)(nil)

// Set marks target as the active exercise; an empty exercise id clears it
func (a *ActiveExercise) Set(target Target) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if target.AssignmentID == "" || target.ExerciseID == "" {
		a.target, a.set = Target{}, false
		return
	}
	a.target, a.set = target, true
}

// Clear removes the active exercise
func (a *ActiveExercise) Clear() {
	a.Set(Target{})
}

// Active returns the active exercise, if any
func (a *ActiveExercise) Active() (Target, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.target, a.set
}

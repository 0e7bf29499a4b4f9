package accrual

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/academyhq/academy/internal/progress"
)

type updateCall struct {
	assignment, exercise string
	delta                int
}

type mockUpdater struct {
	mu    sync.Mutex
	calls []updateCall
	err   error
}

func (m *mockUpdater) UpdateTimeSpent(_ context.Context, assignmentID, exerciseID string, delta int, _ ...progress.MutationOption) (progress.TimeTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return progress.TimeTotals{}, m.err
	}
	m.calls = append(m.calls, updateCall{assignmentID, exerciseID, delta})
	return progress.TimeTotals{}, nil
}

func (m *mockUpdater) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c.delta
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTicker(active ActiveSource) (*Ticker, *mockUpdater, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	up := &mockUpdater{}
	tk := NewTicker(up, active, Config{Now: clock.Now})
	tk.lastTick = clock.Now()
	return tk, up, clock
}

func activeOn(assignment, exercise string) *ActiveExercise {
	a := &ActiveExercise{}
	a.Set(Target{AssignmentID: assignment, ExerciseID: exercise})
	return a
}

func TestTicker_Tick(t *testing.T) {
	tests := []struct {
		name  string
		delta time.Duration
		want  int
	}{
		{"normal tick", 10 * time.Second, 10},
		{"just under gap", 59 * time.Second, 59},
		{"at gap", 60 * time.Second, 0},
		{"suspended", 75 * time.Second, 0},
		{"clock went backwards", -5 * time.Second, 0},
		{"no elapsed time", 0, 0},
		{"sub-second rounds to zero", 300 * time.Millisecond, 0},
		{"rounds to nearest second", 10600 * time.Millisecond, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk, up, clock := newTestTicker(activeOn("a1", "ex1"))
			clock.Advance(tt.delta)

			if got := tk.Tick(context.Background()); got != tt.want {
				t.Errorf("Tick() = %d; want %d", got, tt.want)
			}
			if up.total() != tt.want {
				t.Errorf("credited %d; want %d", up.total(), tt.want)
			}
		})
	}
}

func TestTicker_DiscardedTickResetsBaseline(t *testing.T) {
	tk, up, clock := newTestTicker(activeOn("a1", "ex1"))
	ctx := context.Background()

	clock.Advance(45 * time.Second)
	tk.Tick(ctx)
	clock.Advance(10 * time.Second)
	tk.Tick(ctx)
	if up.total() != 55 {
		t.Errorf("credited %d; want 55", up.total())
	}

	clock.Advance(75 * time.Second)
	tk.Tick(ctx)
	clock.Advance(10 * time.Second)
	tk.Tick(ctx)
	if up.total() != 65 {
		t.Errorf("credited %d; want 65 (suspended gap discarded)", up.total())
	}
}

func TestTicker_NoActiveExercise(t *testing.T) {
	tk, up, clock := newTestTicker(&ActiveExercise{})
	clock.Advance(10 * time.Second)

	if got := tk.Tick(context.Background()); got != 0 {
		t.Errorf("Tick() = %d; want 0", got)
	}
	if len(up.calls) != 0 {
		t.Error("no update expected without an active exercise")
	}
}

func TestTicker_FollowsActiveExercise(t *testing.T) {
	active := activeOn("a1", "ex1")
	tk, up, clock := newTestTicker(active)
	ctx := context.Background()

	clock.Advance(10 * time.Second)
	tk.Tick(ctx)
	active.Set(Target{AssignmentID: "a1", ExerciseID: "ex2"})
	clock.Advance(10 * time.Second)
	tk.Tick(ctx)

	if len(up.calls) != 2 || up.calls[0].exercise != "ex1" || up.calls[1].exercise != "ex2" {
		t.Errorf("calls = %+v", up.calls)
	}
}

func TestTicker_UpdateErrorIsAbsorbed(t *testing.T) {
	tk, up, clock := newTestTicker(activeOn("a1", "ex1"))
	up.err = errors.New("disk full")
	clock.Advance(10 * time.Second)

	if got := tk.Tick(context.Background()); got != 0 {
		t.Errorf("Tick() = %d; want 0 on update failure", got)
	}
}

func TestTicker_RunStopsOnCancel(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	up := &mockUpdater{}
	tk := NewTicker(up, activeOn("a1", "ex1"), Config{Now: clock.Now})

	ch := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tk.run(ctx, ch) }()

	// The first send returns once run has taken its baseline.
	ch <- clock.Now()
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Second)
		ch <- clock.Now()
	}
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("run() error = %v; want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run() did not stop after cancel")
	}

	select {
	case <-tk.Done():
	default:
		t.Error("Done() should be closed after run returns")
	}

	// The first two ticks are certainly processed; the third send only
	// proves the second tick finished.
	if got := up.total(); got < 20 {
		t.Errorf("credited %d; want at least 20", got)
	}
}

func TestTicker_RunsOnce(t *testing.T) {
	tk, _, _ := newTestTicker(&ActiveExercise{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tk.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("first Run() error = %v; want context.Canceled", err)
	}
	if err := tk.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v; want ErrAlreadyRunning", err)
	}

	select {
	case <-tk.Done():
	default:
		t.Error("Done() should stay closed after the second Run")
	}
}

func TestActiveExercise(t *testing.T) {
	a := &ActiveExercise{}
	if _, ok := a.Active(); ok {
		t.Error("zero value should have no active exercise")
	}

	a.Set(Target{AssignmentID: "a1", ExerciseID: "ex1"})
	got, ok := a.Active()
	if !ok || got.ExerciseID != "ex1" {
		t.Errorf("Active() = %+v, %v", got, ok)
	}

	a.Set(Target{AssignmentID: "a1"})
	if _, ok := a.Active(); ok {
		t.Error("empty exercise id should clear the active exercise")
	}

	a.Set(Target{AssignmentID: "a1", ExerciseID: "ex1"})
	a.Clear()
	if _, ok := a.Active(); ok {
		t.Error("Clear() should remove the active exercise")
	}
}

// Package mcp exposes the learner's assignment progress as MCP tools so an
// editor agent can read and update it.
package mcp

import (
	"context"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/samber/lo"

	"github.com/academyhq/academy/internal/content"
	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/progress"
)

// Server wraps the MCP server with academy functionality
type Server struct {
	mcpServer *server.Server
	tracker   *progress.Tracker
	catalog   *content.Registry
}

// Config contains configuration for the MCP server
type Config struct {
	Tracker *progress.Tracker
	Catalog *content.Registry
	Version string
}

// NewServer creates a new MCP server for academy
func NewServer(cfg Config) *Server {
	s := &Server{
		tracker: cfg.Tracker,
		catalog: cfg.Catalog,
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "academy",
		Version: version,
	}, server.WithInstructions(`
Academy tracks a learner's progress through curriculum assignments.
Each assignment has exercises; each exercise has steps, questions and code tasks.

Available tools:
- academy_progress: Show an assignment's work record and completion stats
- academy_start: Start an assignment or one of its exercises
- academy_mark_step: Mark a step done or not done
- academy_hint: Reveal the next hint for an exercise
- academy_complete: Complete an assignment once every exercise has a completed step
- academy_stats: Summarize progress across all assignments
`))

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("academy_progress").
		Description("Show the work record and completion stats for an assignment").
		Handler(s.handleProgress)

	s.mcpServer.Tool("academy_start").
		Description("Start an assignment, or an exercise within it when exercise_id is given").
		Handler(s.handleStart)

	s.mcpServer.Tool("academy_mark_step").
		Description("Mark a step of an exercise as done, or undo it with done=false").
		Handler(s.handleMarkStep)

	s.mcpServer.Tool("academy_hint").
		Description("Reveal the next hint for an exercise. Revealed hints are counted.").
		Handler(s.handleHint)

	s.mcpServer.Tool("academy_complete").
		Description("Complete an assignment. Fails until every exercise has at least one completed step.").
		Handler(s.handleComplete)

	s.mcpServer.Tool("academy_stats").
		Description("Summarize progress across all assignments").
		Handler(s.handleStats)
}

// Input/Output types for tools

type AssignmentInput struct {
	AssignmentID string `json:"assignment_id" jsonschema:"description=Assignment ID such as ch01-01"`
}

type ProgressOutput struct {
	AssignmentID string          `json:"assignment_id"`
	Title        string          `json:"title,omitempty"`
	Status       string          `json:"status"`
	Percent      int             `json:"percent"`
	CanComplete  bool            `json:"can_complete"`
	TimeSpent    int             `json:"time_spent_seconds"`
	HintsUsed    int             `json:"hints_used"`
	Exercises    []ExerciseState `json:"exercises"`
}

type ExerciseState struct {
	ExerciseID string   `json:"exercise_id"`
	Title      string   `json:"title,omitempty"`
	Status     string   `json:"status"`
	Percent    int      `json:"percent"`
	StepsDone  []string `json:"steps_done,omitempty"`
}

type StartInput struct {
	AssignmentID string `json:"assignment_id" jsonschema:"description=Assignment ID such as ch01-01"`
	ExerciseID   string `json:"exercise_id,omitempty" jsonschema:"description=Exercise to start; omit to start the assignment"`
}

type MarkStepInput struct {
	AssignmentID string `json:"assignment_id" jsonschema:"description=Assignment ID such as ch01-01"`
	ExerciseID   string `json:"exercise_id" jsonschema:"description=Exercise the step belongs to"`
	StepID       string `json:"step_id" jsonschema:"description=Step block ID"`
	Done         *bool  `json:"done,omitempty" jsonschema:"description=false to unmark (default: true)"`
}

type HintInput struct {
	AssignmentID string `json:"assignment_id" jsonschema:"description=Assignment ID such as ch01-01"`
	ExerciseID   string `json:"exercise_id" jsonschema:"description=Exercise to reveal a hint for"`
}

type HintOutput struct {
	Revealed int    `json:"revealed"`
	Total    int    `json:"total"`
	Hint     string `json:"hint"`
}

type CompleteOutput struct {
	AssignmentID string `json:"assignment_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

type StatsInput struct{}

type StatsOutput struct {
	Assignments      int            `json:"assignments"`
	ByStatus         map[string]int `json:"by_status"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
	HintsUsed        int            `json:"hints_used"`
	SolutionReveals  int            `json:"solution_reveals"`
}

// Tool handlers

func (s *Server) handleProgress(ctx context.Context, input AssignmentInput) (ProgressOutput, error) {
	a, err := s.catalog.Assignment(ctx, input.AssignmentID)
	if err != nil {
		return ProgressOutput{}, err
	}
	w, err := s.tracker.Get(ctx, input.AssignmentID)
	if err != nil {
		return ProgressOutput{}, fmt.Errorf("failed to load progress: %w", err)
	}
	return progressOutput(a, w), nil
}

func (s *Server) handleStart(ctx context.Context, input StartInput) (ProgressOutput, error) {
	a, err := s.catalog.Assignment(ctx, input.AssignmentID)
	if err != nil {
		return ProgressOutput{}, err
	}

	var w *domain.WorkRecord
	if input.ExerciseID == "" {
		w, err = s.tracker.StartAssignment(ctx, input.AssignmentID)
	} else {
		w, err = s.tracker.StartExercise(ctx, input.AssignmentID, input.ExerciseID)
	}
	if err != nil {
		return ProgressOutput{}, fmt.Errorf("failed to start: %w", err)
	}
	return progressOutput(a, w), nil
}

func (s *Server) handleMarkStep(ctx context.Context, input MarkStepInput) (ProgressOutput, error) {
	a, err := s.catalog.Assignment(ctx, input.AssignmentID)
	if err != nil {
		return ProgressOutput{}, err
	}

	var w *domain.WorkRecord
	if input.Done == nil || *input.Done {
		w, err = s.tracker.MarkStepDone(ctx, input.AssignmentID, input.ExerciseID, input.StepID)
	} else {
		w, err = s.tracker.UnmarkStepDone(ctx, input.AssignmentID, input.ExerciseID, input.StepID)
	}
	if err != nil {
		return ProgressOutput{}, fmt.Errorf("failed to update step: %w", err)
	}
	return progressOutput(a, w), nil
}

// handleHint reveals the next of the exercise's hints, in block order. Past
// the last hint the counter still advances and the last hint is repeated.
func (s *Server) handleHint(ctx context.Context, input HintInput) (HintOutput, error) {
	a, err := s.catalog.Assignment(ctx, input.AssignmentID)
	if err != nil {
		return HintOutput{}, err
	}
	hints := lo.FlatMap(a.ExerciseBlocks(input.ExerciseID), func(b domain.Block, _ int) []string { return b.Hints })

	w, err := s.tracker.RevealHint(ctx, input.AssignmentID, input.ExerciseID)
	if err != nil {
		return HintOutput{}, fmt.Errorf("failed to reveal hint: %w", err)
	}

	out := HintOutput{Revealed: w.Exercise(input.ExerciseID).HintsRevealed, Total: len(hints)}
	switch {
	case len(hints) == 0:
		out.Hint = "This exercise has no hints."
	case out.Revealed > len(hints):
		out.Hint = hints[len(hints)-1]
	default:
		out.Hint = hints[out.Revealed-1]
	}
	return out, nil
}

func (s *Server) handleComplete(ctx context.Context, input AssignmentInput) (CompleteOutput, error) {
	a, err := s.catalog.Assignment(ctx, input.AssignmentID)
	if err != nil {
		return CompleteOutput{}, err
	}

	w, err := s.tracker.CompleteIfReady(ctx, a)
	if err != nil {
		return CompleteOutput{}, fmt.Errorf("cannot complete %s: %w", input.AssignmentID, err)
	}
	return CompleteOutput{
		AssignmentID: w.AssignmentID,
		Status:       string(w.Status),
		Message:      fmt.Sprintf("%s completed", a.Title),
	}, nil
}

func (s *Server) handleStats(ctx context.Context, _ StatsInput) (StatsOutput, error) {
	ids, err := s.tracker.List(ctx)
	if err != nil {
		return StatsOutput{}, err
	}
	records := make([]*domain.WorkRecord, 0, len(ids))
	for _, id := range ids {
		w, err := s.tracker.Get(ctx, id)
		if err != nil {
			return StatsOutput{}, fmt.Errorf("failed to load %s: %w", id, err)
		}
		records = append(records, w)
	}

	sum := progress.Summarize(records)
	return StatsOutput{
		Assignments:      sum.Assignments,
		ByStatus:         lo.MapKeys(sum.ByStatus, func(_ int, k domain.Status) string { return string(k) }),
		TimeSpentSeconds: sum.TimeSpentSeconds,
		HintsUsed:        sum.HintsUsed,
		SolutionReveals:  sum.SolutionReveals,
	}, nil
}

func progressOutput(a *domain.Assignment, w *domain.WorkRecord) ProgressOutput {
	stats := progress.Compute(a, w)
	return ProgressOutput{
		AssignmentID: w.AssignmentID,
		Title:        a.Title,
		Status:       string(w.Status),
		Percent:      stats.Percent,
		CanComplete:  progress.CanComplete(a, w),
		TimeSpent:    w.TotalTimeSpentSeconds,
		HintsUsed:    w.TotalHintsUsed,
		Exercises: lo.Map(stats.Exercises, func(es progress.ExerciseStats, _ int) ExerciseState {
			state := ExerciseState{
				ExerciseID: es.ExerciseID,
				Title:      es.Title,
				Status:     string(es.Status),
				Percent:    es.Percent,
			}
			if ex, ok := w.Exercises[es.ExerciseID]; ok {
				state.StepsDone = ex.StepsCompleted.Sorted()
			}
			return state
		}),
	}
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP serves the tools over streamable HTTP at addr
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/progress"
)

// Recorder is the part of the progress tracker the coordinators write through
type Recorder interface {
	Epoch(assignmentID string) uint64
	Get(ctx context.Context, assignmentID string) (*domain.WorkRecord, error)
	RecordWriteItDownAnswer(ctx context.Context, assignmentID, exerciseID, blockID, answer string, correct *bool, feedback *string, opts ...progress.MutationOption) (*domain.WorkRecord, error)
	RecordCodeSubmission(ctx context.Context, assignmentID, exerciseID, blockID, code string, feedback *string, score *int, opts ...progress.MutationOption) (*domain.WorkRecord, error)
}

// Scope identifies the block a coordinator serves
type Scope struct {
	AssignmentID    string
	ExerciseID      string
	Block           domain.Block
	ExerciseContext string
}

// AnswerResult is the outcome of a write-it-down submission
type AnswerResult struct {
	Verdict AnswerVerdict      `json:"verdict"`
	Graded  bool               `json:"graded"`
	Record  *domain.WorkRecord `json:"record"`
}

// CodeResult is the outcome of a code-task submission
type CodeResult struct {
	Verdict CodeVerdict        `json:"verdict"`
	Graded  bool               `json:"graded"`
	Record  *domain.WorkRecord `json:"record"`
}

// AnswerCoordinator submits answers for one write-it-down block. At most
// one submission is outstanding at a time; re-submission after a result is
// allowed and increments the attempt counter.
type AnswerCoordinator struct {
	scope    Scope
	tracker  Recorder
	grader   AnswerGrader
	inFlight atomic.Bool
}

// NewAnswerCoordinator creates a coordinator for a write-it-down block
func NewAnswerCoordinator(scope Scope, tracker Recorder, grader AnswerGrader) (*AnswerCoordinator, error) {
	if scope.Block.Type != domain.BlockWriteItDown {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongBlockType, scope.Block.ID, scope.Block.Type)
	}
	return &AnswerCoordinator{scope: scope, tracker: tracker, grader: grader}, nil
}

// Pending reports whether a submission is awaiting its verdict
func (c *AnswerCoordinator) Pending() bool {
	return c.inFlight.Load()
}

// Submit grades answer and records the verdict. A grader failure records
// the fallback verdict instead of returning an error.
func (c *AnswerCoordinator) Submit(ctx context.Context, answer string) (*AnswerResult, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, ErrEmptySubmission
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer c.inFlight.Store(false)

	s := c.scope
	epoch := c.tracker.Epoch(s.AssignmentID)

	result := &AnswerResult{Graded: true}
	verdict, err := c.grader.GradeAnswer(ctx, AnswerRequest{
		Question:      s.Block.Question,
		CorrectAnswer: s.Block.ReferenceAnswer,
		StudentAnswer: answer,
	})
	if err != nil {
		slog.Warn("answer grading failed, recording fallback",
			"assignment", s.AssignmentID, "block", s.Block.ID, "error", err)
		verdict = AnswerVerdict{Correct: false, Feedback: FallbackFeedback}
		result.Graded = false
	}
	result.Verdict = verdict

	// the verdict is recorded even if the caller went away while grading
	w, err := c.tracker.RecordWriteItDownAnswer(context.WithoutCancel(ctx),
		s.AssignmentID, s.ExerciseID, s.Block.ID, answer,
		&verdict.Correct, &verdict.Feedback, progress.IfEpoch(epoch))
	if err != nil {
		if errors.Is(err, progress.ErrStaleResult) {
			slog.Info("dropping answer verdict for reset assignment",
				"assignment", s.AssignmentID, "block", s.Block.ID)
		}
		return nil, fmt.Errorf("record answer: %w", err)
	}
	result.Record = w
	return result, nil
}

// CodeCoordinator submits code for one code-task block. Once any result is
// recorded, including a fallback, further submissions are rejected.
type CodeCoordinator struct {
	scope    Scope
	tracker  Recorder
	grader   CodeGrader
	inFlight atomic.Bool
}

// NewCodeCoordinator creates a coordinator for a code-task block
func NewCodeCoordinator(scope Scope, tracker Recorder, grader CodeGrader) (*CodeCoordinator, error) {
	if scope.Block.Type != domain.BlockCodeTask {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongBlockType, scope.Block.ID, scope.Block.Type)
	}
	return &CodeCoordinator{scope: scope, tracker: tracker, grader: grader}, nil
}

// Pending reports whether a submission is awaiting its verdict
func (c *CodeCoordinator) Pending() bool {
	return c.inFlight.Load()
}

// Submit grades code and records the result
func (c *CodeCoordinator) Submit(ctx context.Context, code string) (*CodeResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptySubmission
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer c.inFlight.Store(false)

	s := c.scope
	submitted, err := c.submitted(ctx)
	if err != nil {
		return nil, err
	}
	if submitted {
		return nil, ErrAlreadySubmitted
	}
	epoch := c.tracker.Epoch(s.AssignmentID)

	result := &CodeResult{Graded: true}
	verdict, err := c.grader.GradeCode(ctx, CodeRequest{
		Language:          s.Block.Language,
		Prompt:            s.Block.Prompt,
		StudentCode:       code,
		ReferenceSolution: s.Block.ReferenceSolution,
		ExerciseContext:   s.ExerciseContext,
	})
	if err != nil {
		slog.Warn("code grading failed, recording fallback",
			"assignment", s.AssignmentID, "block", s.Block.ID, "error", err)
		verdict = CodeVerdict{Score: 0, Correct: false, Feedback: FallbackFeedback}
		result.Graded = false
	}
	result.Verdict = verdict

	w, err := c.tracker.RecordCodeSubmission(context.WithoutCancel(ctx),
		s.AssignmentID, s.ExerciseID, s.Block.ID, code,
		&verdict.Feedback, &verdict.Score, progress.IfEpoch(epoch))
	if err != nil {
		if errors.Is(err, progress.ErrStaleResult) {
			slog.Info("dropping code verdict for reset assignment",
				"assignment", s.AssignmentID, "block", s.Block.ID)
		}
		return nil, fmt.Errorf("record code submission: %w", err)
	}
	result.Record = w
	return result, nil
}

func (c *CodeCoordinator) submitted(ctx context.Context) (bool, error) {
	w, err := c.tracker.Get(ctx, c.scope.AssignmentID)
	if err != nil {
		return false, fmt.Errorf("load work record: %w", err)
	}
	ex, ok := w.Exercises[c.scope.ExerciseID]
	if !ok {
		return false, nil
	}
	_, ok = ex.CodeSubmissions[c.scope.Block.ID]
	return ok, nil
}

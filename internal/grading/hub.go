package grading

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/progress"
)

// Hub hands out one coordinator per block so the in-flight guard holds
// across callers
type Hub struct {
	tracker Recorder
	source  progress.AssignmentSource
	answers AnswerGrader
	code    CodeGrader

	mu           sync.Mutex
	answerCoords map[string]*AnswerCoordinator
	codeCoords   map[string]*CodeCoordinator
}

// HubConfig holds the dependencies of a Hub
type HubConfig struct {
	Tracker Recorder
	Source  progress.AssignmentSource
	Answers AnswerGrader
	Code    CodeGrader
}

// NewHub creates a coordinator hub
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		tracker:      cfg.Tracker,
		source:       cfg.Source,
		answers:      cfg.Answers,
		code:         cfg.Code,
		answerCoords: make(map[string]*AnswerCoordinator),
		codeCoords:   make(map[string]*CodeCoordinator),
	}
}

// Answer returns the coordinator for a write-it-down block
func (h *Hub) Answer(ctx context.Context, assignmentID, exerciseID, blockID string) (*AnswerCoordinator, error) {
	key := scopeKey(assignmentID, exerciseID, blockID)

	h.mu.Lock()
	c, ok := h.answerCoords[key]
	h.mu.Unlock()
	if ok {
		return c, nil
	}

	scope, err := h.resolve(ctx, assignmentID, exerciseID, blockID)
	if err != nil {
		return nil, err
	}
	c, err = NewAnswerCoordinator(scope, h.tracker, h.answers)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.answerCoords[key]; ok {
		return existing, nil
	}
	h.answerCoords[key] = c
	return c, nil
}

// Code returns the coordinator for a code-task block
func (h *Hub) Code(ctx context.Context, assignmentID, exerciseID, blockID string) (*CodeCoordinator, error) {
	key := scopeKey(assignmentID, exerciseID, blockID)

	h.mu.Lock()
	c, ok := h.codeCoords[key]
	h.mu.Unlock()
	if ok {
		return c, nil
	}

	scope, err := h.resolve(ctx, assignmentID, exerciseID, blockID)
	if err != nil {
		return nil, err
	}
	c, err = NewCodeCoordinator(scope, h.tracker, h.code)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.codeCoords[key]; ok {
		return existing, nil
	}
	h.codeCoords[key] = c
	return c, nil
}

func (h *Hub) resolve(ctx context.Context, assignmentID, exerciseID, blockID string) (Scope, error) {
	a, err := h.source.Assignment(ctx, assignmentID)
	if err != nil {
		return Scope{}, err
	}
	b, ok := a.Block(blockID)
	if !ok || b.ExerciseID != exerciseID {
		return Scope{}, fmt.Errorf("block %s in exercise %s: %w", blockID, exerciseID, domain.ErrNotFound)
	}
	return Scope{
		AssignmentID:    assignmentID,
		ExerciseID:      exerciseID,
		Block:           b,
		ExerciseContext: exerciseContext(a, exerciseID),
	}, nil
}

func exerciseContext(a *domain.Assignment, exerciseID string) string {
	for _, g := range a.Exercises() {
		if g.ExerciseID == exerciseID {
			return strings.TrimSpace(g.Title + "\n\n" + g.Text)
		}
	}
	return ""
}

func scopeKey(parts ...string) string {
	return strings.Join(parts, "/")
}

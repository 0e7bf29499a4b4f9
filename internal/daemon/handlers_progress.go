package daemon

import (
	"context"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/academyhq/academy/internal/accrual"
	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/progress"
	"github.com/academyhq/academy/internal/storage/sqlite"
)

// progressView is a work record with the stats derived from it
type progressView struct {
	Record      *domain.WorkRecord `json:"record"`
	Stats       *progress.Stats    `json:"stats,omitempty"`
	CanComplete bool               `json:"can_complete"`
}

func (s *Server) view(ctx context.Context, w *domain.WorkRecord) progressView {
	v := progressView{Record: w}
	a, err := s.catalog.Assignment(ctx, w.AssignmentID)
	if err != nil {
		return v
	}
	stats := progress.Compute(a, w)
	v.Stats = &stats
	v.CanComplete = progress.CanComplete(a, w)
	return v
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	ids, err := s.tracker.List(r.Context())
	if err != nil {
		s.writeError(w, "failed to list work records", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"assignments": ids,
	})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, "failed to load work record", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.view(r.Context(), rec))
}

// mutation runs fn and responds with the updated progress view
func (s *Server) mutation(w http.ResponseWriter, r *http.Request, message string, fn func(ctx context.Context) (*domain.WorkRecord, error)) {
	rec, err := fn(r.Context())
	if err != nil {
		s.writeError(w, message, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.view(r.Context(), rec))
}

func (s *Server) handleStartAssignment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.catalog.Assignment(r.Context(), id); err != nil {
		s.writeError(w, "assignment not found", err)
		return
	}
	s.mutation(w, r, "failed to start assignment", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.StartAssignment(ctx, id)
	})
}

func (s *Server) handleCompleteAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.catalog.Assignment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, "assignment not found", err)
		return
	}
	s.mutation(w, r, "cannot complete assignment", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.CompleteIfReady(ctx, a)
	})
}

func (s *Server) handleResetAssignment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tracker.Reset(r.Context(), id); err != nil {
		s.writeError(w, "failed to reset assignment", err)
		return
	}
	if target, ok := s.active.Active(); ok && target.AssignmentID == id {
		s.active.Clear()
	}
	s.dropDiscussions(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartExercise(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, "failed to start exercise", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.StartExercise(ctx, r.PathValue("id"), r.PathValue("ex"))
	})
}

func (s *Server) handleMarkStep(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, "failed to mark step", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.MarkStepDone(ctx, r.PathValue("id"), r.PathValue("ex"), r.PathValue("step"))
	})
}

func (s *Server) handleUnmarkStep(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, "failed to unmark step", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.UnmarkStepDone(ctx, r.PathValue("id"), r.PathValue("ex"), r.PathValue("step"))
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, "failed to check verification item", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.CheckVerificationStep(ctx, r.PathValue("id"), r.PathValue("ex"), r.PathValue("key"))
	})
}

func (s *Server) handleUncheck(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, "failed to uncheck verification item", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.UncheckVerificationStep(ctx, r.PathValue("id"), r.PathValue("ex"), r.PathValue("key"))
	})
}

func (s *Server) handleRevealHint(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, "failed to reveal hint", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.RevealHint(ctx, r.PathValue("id"), r.PathValue("ex"))
	})
}

func (s *Server) handleRevealSolutionStep(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, "failed to reveal solution step", func(ctx context.Context) (*domain.WorkRecord, error) {
		return s.tracker.RevealSolutionStep(ctx, r.PathValue("id"), r.PathValue("ex"))
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ids, err := s.tracker.List(r.Context())
	if err != nil {
		s.writeError(w, "failed to list work records", err)
		return
	}
	records := make([]*domain.WorkRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.tracker.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, "failed to load work record", err)
			return
		}
		records = append(records, rec)
	}
	s.jsonResponse(w, http.StatusOK, progress.Summarize(records))
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	target, ok := s.active.Active()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"active": ok,
		"target": target,
	})
}

// handleSetActive sets the exercise that receives accrued time. An empty
// exercise id clears it.
func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var target accrual.Target
	if !s.decode(w, r, &target) {
		return
	}

	if target.AssignmentID != "" && target.ExerciseID != "" {
		a, err := s.catalog.Assignment(r.Context(), target.AssignmentID)
		if err != nil {
			s.writeError(w, "assignment not found", err)
			return
		}
		if !lo.ContainsBy(a.Exercises(), func(b domain.Block) bool { return b.ExerciseID == target.ExerciseID }) {
			s.writeError(w, "unknown exercise", progress.ErrUnknownExercise)
			return
		}
	}

	s.active.Set(target)
	current, ok := s.active.Active()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"active": ok,
		"target": current,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := sqlite.EventQuery{
		AssignmentID: r.URL.Query().Get("assignment"),
		Type:         domain.EventType(r.URL.Query().Get("type")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		q.Limit = limit
	}

	events, err := s.history.Query(r.Context(), q)
	if err != nil {
		s.writeError(w, "failed to query events", err)
		return
	}
	if events == nil {
		events = []domain.ProgressEvent{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"events": events,
	})
}

package progress

import (
	"math"

	"github.com/samber/lo"

	"github.com/academyhq/academy/internal/domain"
)

// Stats is the derived completion state of one assignment
type Stats struct {
	TotalSteps           int             `json:"total_steps"`
	CompletedSteps       int             `json:"completed_steps"`
	TotalWriteItDowns    int             `json:"total_write_it_downs"`
	AnsweredWriteItDowns int             `json:"answered_write_it_downs"`
	TotalCodeTasks       int             `json:"total_code_tasks"`
	SubmittedCodeTasks   int             `json:"submitted_code_tasks"`
	CompletedItems       int             `json:"completed_items"`
	TotalItems           int             `json:"total_items"`
	Percent              int             `json:"percent"`
	Exercises            []ExerciseStats `json:"exercises"`
}

// ExerciseStats is the per-exercise breakdown of Stats
type ExerciseStats struct {
	ExerciseID     string        `json:"exercise_id"`
	Title          string        `json:"title,omitempty"`
	Status         domain.Status `json:"status"`
	CompletedItems int           `json:"completed_items"`
	TotalItems     int           `json:"total_items"`
	Percent        int           `json:"percent"`
}

// Compute derives completion counts from an assignment and its work record.
// Answers and submissions count by existence, not correctness. The inputs
// are not modified.
func Compute(a *domain.Assignment, w *domain.WorkRecord) Stats {
	var s Stats
	perExercise := make(map[string]*ExerciseStats)
	for _, g := range a.Exercises() {
		es := &ExerciseStats{ExerciseID: g.ExerciseID, Title: g.Title, Status: domain.StatusNotStarted}
		if ex, ok := w.Exercises[g.ExerciseID]; ok {
			es.Status = ex.Status
		}
		perExercise[g.ExerciseID] = es
	}

	count := func(exerciseID string, done bool) {
		if es, ok := perExercise[exerciseID]; ok {
			es.TotalItems++
			if done {
				es.CompletedItems++
			}
		}
	}

	for _, b := range a.Blocks {
		ex := w.Exercises[b.ExerciseID]
		switch b.Type {
		case domain.BlockStep:
			if !b.RequiresAction {
				continue
			}
			done := ex != nil && ex.StepsCompleted.Has(b.ID)
			s.TotalSteps++
			if done {
				s.CompletedSteps++
			}
			count(b.ExerciseID, done)
		case domain.BlockWriteItDown:
			done := false
			if ex != nil {
				_, done = ex.WriteItDownAnswers[b.ID]
			}
			s.TotalWriteItDowns++
			if done {
				s.AnsweredWriteItDowns++
			}
			count(b.ExerciseID, done)
		case domain.BlockCodeTask:
			done := false
			if ex != nil {
				_, done = ex.CodeSubmissions[b.ID]
			}
			s.TotalCodeTasks++
			if done {
				s.SubmittedCodeTasks++
			}
			count(b.ExerciseID, done)
		}
	}

	s.CompletedItems = s.CompletedSteps + s.AnsweredWriteItDowns + s.SubmittedCodeTasks
	s.TotalItems = s.TotalSteps + s.TotalWriteItDowns + s.TotalCodeTasks
	s.Percent = percent(s.CompletedItems, s.TotalItems)

	s.Exercises = lo.Map(a.Exercises(), func(g domain.Block, _ int) ExerciseStats {
		es := *perExercise[g.ExerciseID]
		es.Percent = percent(es.CompletedItems, es.TotalItems)
		return es
	})
	return s
}

// CanComplete reports whether the assignment may be marked completed: every
// exercise group must have at least one completed step. Unanswered questions
// and unsubmitted code tasks do not block completion.
func CanComplete(a *domain.Assignment, w *domain.WorkRecord) bool {
	return lo.EveryBy(a.Exercises(), func(g domain.Block) bool {
		ex, ok := w.Exercises[g.ExerciseID]
		return ok && len(ex.StepsCompleted) > 0
	})
}

// Summary aggregates work records across assignments
type Summary struct {
	Assignments      int                   `json:"assignments"`
	ByStatus         map[domain.Status]int `json:"by_status"`
	TimeSpentSeconds int                   `json:"time_spent_seconds"`
	HintsUsed        int                   `json:"hints_used"`
	SolutionReveals  int                   `json:"solution_reveals"`
}

// Summarize totals a set of work records
func Summarize(records []*domain.WorkRecord) Summary {
	s := Summary{
		Assignments: len(records),
		ByStatus:    lo.CountValuesBy(records, func(w *domain.WorkRecord) domain.Status { return w.Status }),
	}
	s.TimeSpentSeconds = lo.SumBy(records, func(w *domain.WorkRecord) int { return w.TotalTimeSpentSeconds })
	s.HintsUsed = lo.SumBy(records, func(w *domain.WorkRecord) int { return w.TotalHintsUsed })
	s.SolutionReveals = lo.SumBy(records, func(w *domain.WorkRecord) int { return w.TotalSolutionReveals })
	return s
}

func percent(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

package daemon

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/academyhq/academy/internal/domain"
)

type assignmentSummary struct {
	ID               string   `json:"id"`
	ChapterSlug      string   `json:"chapter_slug"`
	Number           int      `json:"number"`
	Title            string   `json:"title"`
	TotalExercises   int      `json:"total_exercises"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	ComplexityLevel  string   `json:"complexity_level,omitempty"`
	SkillsCovered    []string `json:"skills_covered,omitempty"`
}

func summarize(a *domain.Assignment) assignmentSummary {
	return assignmentSummary{
		ID:               a.ID,
		ChapterSlug:      a.ChapterSlug,
		Number:           a.Number,
		Title:            a.Title,
		TotalExercises:   a.TotalExercises,
		EstimatedMinutes: a.EstimatedMinutes,
		ComplexityLevel:  a.ComplexityLevel,
		SkillsCovered:    a.SkillsCovered,
	}
}

func (s *Server) handleListChapters(w http.ResponseWriter, r *http.Request) {
	chapters := s.catalog.Chapters()

	result := make([]map[string]any, 0, len(chapters))
	for _, ch := range chapters {
		result = append(result, map[string]any{
			"chapter":          ch,
			"assignment_count": len(s.catalog.Assignments(ch.Slug)),
		})
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"chapters": result,
	})
}

func (s *Server) handleListChapterAssignments(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	ch, err := s.catalog.Chapter(slug)
	if err != nil {
		s.writeError(w, "chapter not found", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"chapter":     ch,
		"assignments": lo.Map(s.catalog.Assignments(slug), func(a *domain.Assignment, _ int) assignmentSummary { return summarize(a) }),
	})
}

func (s *Server) handleGetAssignmentContent(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		s.jsonError(w, http.StatusBadRequest, "assignment number must be a positive integer", err)
		return
	}

	a, ok := s.catalog.Lookup(slug, number)
	if !ok {
		s.writeError(w, "assignment not found",
			fmt.Errorf("%w: %s/%d", domain.ErrAssignmentNotFound, slug, number))
		return
	}

	s.jsonResponse(w, http.StatusOK, a)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.jsonError(w, http.StatusBadRequest, "q is required", nil)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": lo.Map(s.catalog.Search(query), func(a *domain.Assignment, _ int) assignmentSummary { return summarize(a) }),
	})
}

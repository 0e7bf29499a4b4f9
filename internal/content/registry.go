package content

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"

	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/progress"
)

// Registry caches the curriculum in memory and resolves assignments by id
type Registry struct {
	loader *Loader

	mu          sync.RWMutex
	chapters    []domain.Chapter
	assignments map[string]*domain.Assignment
	byChapter   map[string][]*domain.Assignment
	loaded      bool
}

var _ progress.AssignmentSource = (*Registry)(nil)

// NewRegistry creates a new content registry
func NewRegistry(loader *Loader) *Registry {
	return &Registry{
		loader:      loader,
		assignments: make(map[string]*domain.Assignment),
		byChapter:   make(map[string][]*domain.Assignment),
	}
}

// Load reads every chapter and assignment into memory. Invalid assignment
// files are skipped with a warning.
func (r *Registry) Load() error {
	chapters, err := r.loader.LoadCatalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	assignments := make(map[string]*domain.Assignment)
	byChapter := make(map[string][]*domain.Assignment)
	for _, ch := range chapters {
		numbers, err := r.loader.ListAssignments(ch.Slug)
		if err != nil {
			return fmt.Errorf("list assignments for %s: %w", ch.Slug, err)
		}
		for _, n := range numbers {
			a, err := r.loader.LoadAssignment(ch.Slug, n)
			if err != nil {
				slog.Warn("skipping assignment", "chapter", ch.Slug, "number", n, "error", err)
				continue
			}
			if _, dup := assignments[a.ID]; dup {
				slog.Warn("duplicate assignment id", "id", a.ID, "chapter", ch.Slug)
				continue
			}
			assignments[a.ID] = a
			byChapter[ch.Slug] = append(byChapter[ch.Slug], a)
		}
	}

	r.mu.Lock()
	r.chapters = chapters
	r.assignments = assignments
	r.byChapter = byChapter
	r.loaded = true
	r.mu.Unlock()

	slog.Info("content loaded", "chapters", len(chapters), "assignments", len(assignments))
	return nil
}

// Reload rereads content from disk
func (r *Registry) Reload() error {
	return r.Load()
}

// IsLoaded reports whether Load has completed
func (r *Registry) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Chapters returns the curriculum chapters in catalog order
func (r *Registry) Chapters() []domain.Chapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Chapter(nil), r.chapters...)
}

// Chapter returns a chapter by slug
func (r *Registry) Chapter(slug string) (domain.Chapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := lo.Find(r.chapters, func(c domain.Chapter) bool { return c.Slug == slug })
	if !ok {
		return domain.Chapter{}, fmt.Errorf("%w: %s", domain.ErrChapterNotFound, slug)
	}
	return ch, nil
}

// Assignment returns an assignment by id
func (r *Registry) Assignment(_ context.Context, id string) (*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssignmentNotFound, id)
	}
	return a, nil
}

// Lookup returns the assignment for (chapterSlug, number), if present
func (r *Registry) Lookup(chapterSlug string, number int) (*domain.Assignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Find(r.byChapter[chapterSlug], func(a *domain.Assignment) bool { return a.Number == number })
}

// Assignments returns a chapter's assignments ordered by number
func (r *Registry) Assignments(chapterSlug string) []*domain.Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*domain.Assignment(nil), r.byChapter[chapterSlug]...)
}

// All returns every assignment ordered by chapter then number
func (r *Registry) All() []*domain.Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Assignment
	for _, ch := range r.chapters {
		out = append(out, r.byChapter[ch.Slug]...)
	}
	return out
}

// Search finds assignments whose title, id or skills fuzzily match query.
// Results are ranked by match distance.
func (r *Registry) Search(query string) []*domain.Assignment {
	type hit struct {
		a    *domain.Assignment
		rank int
	}
	var hits []hit
	for _, a := range r.All() {
		best := -1
		for _, target := range append([]string{a.Title, a.ID}, a.SkillsCovered...) {
			if rank := fuzzy.RankMatchFold(query, target); rank >= 0 && (best < 0 || rank < best) {
				best = rank
			}
		}
		if best >= 0 {
			hits = append(hits, hit{a, best})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })
	return lo.Map(hits, func(h hit, _ int) *domain.Assignment { return h.a })
}

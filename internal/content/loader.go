package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/academyhq/academy/internal/domain"
)

var assignmentFile = regexp.MustCompile(`^assignment-(\d+)\.yaml$`)

// catalogFile is the YAML structure of catalog.yaml
type catalogFile struct {
	Chapters []domain.Chapter `yaml:"chapters"`
}

// Loader reads curriculum content from a directory tree:
//
//	<base>/catalog.yaml
//	<base>/<chapter-slug>/assignment-NN.yaml
type Loader struct {
	basePath string
}

// NewLoader creates a new content loader
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// BasePath returns the content root
func (l *Loader) BasePath() string {
	return l.basePath
}

// LoadCatalog loads the chapter list. A missing catalog yields one chapter
// per subdirectory.
func (l *Loader) LoadCatalog() ([]domain.Chapter, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, "catalog.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return l.discoverChapters()
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return cf.Chapters, nil
}

func (l *Loader) discoverChapters() ([]domain.Chapter, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("read content directory: %w", err)
	}
	var chapters []domain.Chapter
	for _, e := range entries {
		if e.IsDir() {
			chapters = append(chapters, domain.Chapter{ID: len(chapters) + 1, Slug: e.Name(), Title: e.Name()})
		}
	}
	return chapters, nil
}

// LoadAssignment loads one assignment by chapter and number. It returns an
// error matching domain.ErrAssignmentNotFound if the file does not exist.
func (l *Loader) LoadAssignment(chapterSlug string, number int) (*domain.Assignment, error) {
	path := filepath.Join(l.basePath, chapterSlug, fmt.Sprintf("assignment-%02d.yaml", number))

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s #%d", domain.ErrAssignmentNotFound, chapterSlug, number)
	}
	if err != nil {
		return nil, fmt.Errorf("read assignment file: %w", err)
	}

	var a domain.Assignment
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse assignment file %s: %w", path, err)
	}

	a.ChapterSlug = chapterSlug
	a.Number = number
	if a.ID == "" {
		a.ID = AssignmentID(chapterSlug, number)
	}
	if a.TotalExercises == 0 {
		a.TotalExercises = len(a.Exercises())
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("assignment %s: %w", a.ID, err)
	}
	return &a, nil
}

// ListAssignments returns the assignment numbers present in a chapter, ascending
func (l *Loader) ListAssignments(chapterSlug string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(l.basePath, chapterSlug))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chapter directory: %w", err)
	}

	var numbers []int
	for _, e := range entries {
		m := assignmentFile.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

// AssignmentID is the default id of an assignment without an explicit one
func AssignmentID(chapterSlug string, number int) string {
	return fmt.Sprintf("%s-%02d", chapterSlug, number)
}

package domain

import "strings"

// Assignment is a static, ordered set of content blocks defining one
// hands-on training unit. It is loaded from content files and never mutated.
type Assignment struct {
	ID               string   `yaml:"id" json:"id"`
	ChapterSlug      string   `yaml:"chapter" json:"chapter_slug"`
	Number           int      `yaml:"number" json:"number"`
	Title            string   `yaml:"title" json:"title"`
	Blocks           []Block  `yaml:"blocks" json:"blocks"`
	TotalExercises   int      `yaml:"total_exercises" json:"total_exercises"`
	EstimatedMinutes int      `yaml:"estimated_minutes" json:"estimated_minutes"`
	ComplexityLevel  string   `yaml:"complexity_level" json:"complexity_level"`
	SkillsCovered    []string `yaml:"skills_covered" json:"skills_covered,omitempty"`
}

// BlockType discriminates the Block union
type BlockType string

const (
	BlockHeader         BlockType = "header"
	BlockExerciseGroup  BlockType = "exercise_group"
	BlockStep           BlockType = "step"
	BlockWriteItDown    BlockType = "write_it_down"
	BlockCodeTask       BlockType = "code_task"
	BlockVerification   BlockType = "verification"
	BlockSolutionReveal BlockType = "solution_reveal"
	BlockCallout        BlockType = "callout"
	BlockDataTable      BlockType = "data_table"
	BlockReference      BlockType = "reference"
)

// Valid reports whether t is a known block type
func (t BlockType) Valid() bool {
	switch t {
	case BlockHeader, BlockExerciseGroup, BlockStep, BlockWriteItDown, BlockCodeTask,
		BlockVerification, BlockSolutionReveal, BlockCallout, BlockDataTable, BlockReference:
		return true
	}
	return false
}

// ExerciseScoped reports whether blocks of this type belong to an exercise
func (t BlockType) ExerciseScoped() bool {
	switch t {
	case BlockExerciseGroup, BlockStep, BlockWriteItDown, BlockCodeTask,
		BlockVerification, BlockSolutionReveal:
		return true
	}
	return false
}

// Block is one typed content element within an assignment. Only the fields
// relevant to Type are populated. Ownership is by shared ExerciseID; no block
// contains another.
type Block struct {
	ID         string    `yaml:"id" json:"id"`
	Type       BlockType `yaml:"type" json:"type"`
	ExerciseID string    `yaml:"exercise" json:"exercise_id,omitempty"`

	// header, callout, exercise_group
	Title string `yaml:"title" json:"title,omitempty"`
	Text  string `yaml:"text" json:"text,omitempty"`

	// exercise_group
	Sequence int    `yaml:"sequence" json:"sequence,omitempty"`
	Variant  string `yaml:"variant" json:"variant,omitempty"`

	// step
	StepNumber     int  `yaml:"step" json:"step_number,omitempty"`
	RequiresAction bool `yaml:"requires_action" json:"requires_action,omitempty"`

	// write_it_down
	Question        string `yaml:"question" json:"question,omitempty"`
	ReferenceAnswer string `yaml:"reference_answer" json:"reference_answer,omitempty"`
	SkillTested     string `yaml:"skill_tested" json:"skill_tested,omitempty"`

	// code_task
	Language          string `yaml:"language" json:"language,omitempty"`
	Prompt            string `yaml:"prompt" json:"prompt,omitempty"`
	StarterCode       string `yaml:"starter_code" json:"starter_code,omitempty"`
	ReferenceSolution string `yaml:"reference_solution" json:"reference_solution,omitempty"`

	// write_it_down, code_task
	Hints []string `yaml:"hints" json:"hints,omitempty"`

	// verification
	Items []string `yaml:"items" json:"items,omitempty"`

	// solution_reveal
	Steps []string `yaml:"steps" json:"steps,omitempty"`

	// data_table
	Columns []string   `yaml:"columns" json:"columns,omitempty"`
	Rows    [][]string `yaml:"rows" json:"rows,omitempty"`

	// reference
	URL string `yaml:"url" json:"url,omitempty"`
}

// Exercises returns the exercise-group blocks in assignment order
func (a *Assignment) Exercises() []Block {
	var out []Block
	for _, b := range a.Blocks {
		if b.Type == BlockExerciseGroup {
			out = append(out, b)
		}
	}
	return out
}

// ExerciseBlocks returns the blocks owned by exerciseID, excluding the group header
func (a *Assignment) ExerciseBlocks(exerciseID string) []Block {
	var out []Block
	for _, b := range a.Blocks {
		if b.ExerciseID == exerciseID && b.Type != BlockExerciseGroup {
			out = append(out, b)
		}
	}
	return out
}

// Block returns the block with the given id
func (a *Assignment) Block(id string) (Block, bool) {
	for _, b := range a.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// HasStep reports whether stepID is a step block owned by exerciseID
func (a *Assignment) HasStep(exerciseID, stepID string) bool {
	b, ok := a.Block(stepID)
	return ok && b.Type == BlockStep && b.ExerciseID == exerciseID
}

// Validate checks structural consistency of the definition
func (a *Assignment) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	seen := make(map[string]bool, len(a.Blocks))
	groups := make(map[string]bool)
	for _, b := range a.Blocks {
		if b.Type == BlockExerciseGroup {
			groups[b.ExerciseID] = true
		}
	}
	for i, b := range a.Blocks {
		if !b.Type.Valid() {
			return &ValidationError{Field: "blocks", Index: i, Reason: "unknown block type " + string(b.Type)}
		}
		if b.ID == "" {
			return &ValidationError{Field: "blocks", Index: i, Reason: "missing id"}
		}
		if seen[b.ID] {
			return &ValidationError{Field: "blocks", Index: i, Reason: "duplicate id " + b.ID}
		}
		seen[b.ID] = true
		if b.Type.ExerciseScoped() {
			if b.ExerciseID == "" {
				return &ValidationError{Field: "blocks", Index: i, Reason: "missing exercise for " + b.ID}
			}
			if !groups[b.ExerciseID] {
				return &ValidationError{Field: "blocks", Index: i, Reason: "no exercise group " + b.ExerciseID}
			}
		}
	}
	return nil
}

// Chapter groups assignments in the curriculum
type Chapter struct {
	ID           int    `yaml:"id" json:"id"`
	Slug         string `yaml:"slug" json:"slug"`
	Title        string `yaml:"title" json:"title"`
	Description  string `yaml:"description" json:"description,omitempty"`
	Phase        string `yaml:"phase" json:"phase,omitempty"`
	WeekRange    string `yaml:"week_range" json:"week_range,omitempty"`
	TotalLessons int    `yaml:"total_lessons" json:"total_lessons,omitempty"`
}

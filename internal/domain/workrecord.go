package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of a work record or exercise record
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func (s Status) rank() int {
	switch s {
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	default:
		return 0
	}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusNotStarted || s == StatusInProgress || s == StatusCompleted
}

// Advance returns to if it is ahead of s, otherwise s. Status never moves backward.
func (s Status) Advance(to Status) Status {
	if to.rank() > s.rank() {
		return to
	}
	return s
}

// StringSet is a set of strings persisted as a sorted JSON array
type StringSet map[string]struct{}

// NewStringSet creates a set holding items
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Add inserts v and reports whether it was absent
func (s StringSet) Add(v string) bool {
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Remove deletes v and reports whether it was present
func (s StringSet) Remove(v string) bool {
	if _, ok := s[v]; !ok {
		return false
	}
	delete(s, v)
	return true
}

// Has reports membership
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in ascending order
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy
func (s StringSet) Clone() StringSet {
	out := make(StringSet, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted array
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array; null yields an empty set
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode string set: %w", err)
	}
	*s = NewStringSet(items...)
	return nil
}

// AnswerRecord is the latest graded submission of one write-it-down block
type AnswerRecord struct {
	Answer   string  `json:"answer"`
	Correct  *bool   `json:"correct,omitempty"`
	Feedback *string `json:"feedback,omitempty"`
	Attempts int     `json:"attempts"`
}

// CodeSubmission is the authoritative graded submission of one code task
type CodeSubmission struct {
	Code     string  `json:"code"`
	Feedback *string `json:"feedback,omitempty"`
	Score    *int    `json:"score,omitempty"`
}

// ExerciseWorkRecord holds progress for one exercise group
type ExerciseWorkRecord struct {
	Status                Status                    `json:"status"`
	StepsCompleted        StringSet                 `json:"steps_completed"`
	WriteItDownAnswers    map[string]AnswerRecord   `json:"write_it_down_answers"`
	CodeSubmissions       map[string]CodeSubmission `json:"code_submissions"`
	VerificationChecks    StringSet                 `json:"verification_checks"`
	HintsRevealed         int                       `json:"hints_revealed"`
	SolutionStepsRevealed int                       `json:"solution_steps_revealed"`
	TimeSpentSeconds      int                       `json:"time_spent_seconds"`
}

// NewExerciseWorkRecord creates an empty, not-started exercise record
func NewExerciseWorkRecord() *ExerciseWorkRecord {
	return &ExerciseWorkRecord{
		Status:             StatusNotStarted,
		StepsCompleted:     NewStringSet(),
		WriteItDownAnswers: make(map[string]AnswerRecord),
		CodeSubmissions:    make(map[string]CodeSubmission),
		VerificationChecks: NewStringSet(),
	}
}

// normalize fills maps left nil by a decoder
func (e *ExerciseWorkRecord) normalize() {
	if !e.Status.Valid() {
		e.Status = StatusNotStarted
	}
	if e.StepsCompleted == nil {
		e.StepsCompleted = NewStringSet()
	}
	if e.WriteItDownAnswers == nil {
		e.WriteItDownAnswers = make(map[string]AnswerRecord)
	}
	if e.CodeSubmissions == nil {
		e.CodeSubmissions = make(map[string]CodeSubmission)
	}
	if e.VerificationChecks == nil {
		e.VerificationChecks = NewStringSet()
	}
}

// Clone returns a deep copy
func (e *ExerciseWorkRecord) Clone() *ExerciseWorkRecord {
	out := *e
	out.StepsCompleted = e.StepsCompleted.Clone()
	out.VerificationChecks = e.VerificationChecks.Clone()
	out.WriteItDownAnswers = make(map[string]AnswerRecord, len(e.WriteItDownAnswers))
	for k, v := range e.WriteItDownAnswers {
		v.Correct = clonePtr(v.Correct)
		v.Feedback = clonePtr(v.Feedback)
		out.WriteItDownAnswers[k] = v
	}
	out.CodeSubmissions = make(map[string]CodeSubmission, len(e.CodeSubmissions))
	for k, v := range e.CodeSubmissions {
		v.Feedback = clonePtr(v.Feedback)
		v.Score = clonePtr(v.Score)
		out.CodeSubmissions[k] = v
	}
	return &out
}

// WorkRecord is the persisted progress state of one learner on one assignment
type WorkRecord struct {
	AssignmentID          string                         `json:"assignment_id"`
	Status                Status                         `json:"status"`
	Exercises             map[string]*ExerciseWorkRecord `json:"exercises"`
	TotalTimeSpentSeconds int                            `json:"total_time_spent_seconds"`
	TotalHintsUsed        int                            `json:"total_hints_used"`
	TotalSolutionReveals  int                            `json:"total_solution_reveals"`
	StartedAt             *time.Time                     `json:"started_at,omitempty"`
	CompletedAt           *time.Time                     `json:"completed_at,omitempty"`
	UpdatedAt             time.Time                      `json:"updated_at"`
}

// NewWorkRecord materializes the default record for an assignment
func NewWorkRecord(assignmentID string) *WorkRecord {
	return &WorkRecord{
		AssignmentID: assignmentID,
		Status:       StatusNotStarted,
		Exercises:    make(map[string]*ExerciseWorkRecord),
	}
}

// Exercise returns the record for exerciseID, creating it if absent
func (w *WorkRecord) Exercise(exerciseID string) *ExerciseWorkRecord {
	ex, ok := w.Exercises[exerciseID]
	if !ok {
		ex = NewExerciseWorkRecord()
		w.Exercises[exerciseID] = ex
	}
	return ex
}

// Clone returns a deep copy
func (w *WorkRecord) Clone() *WorkRecord {
	out := *w
	out.StartedAt = clonePtr(w.StartedAt)
	out.CompletedAt = clonePtr(w.CompletedAt)
	out.Exercises = make(map[string]*ExerciseWorkRecord, len(w.Exercises))
	for id, ex := range w.Exercises {
		out.Exercises[id] = ex.Clone()
	}
	return &out
}

// HintsSum returns the sum of per-exercise hint reveals
func (w *WorkRecord) HintsSum() int {
	n := 0
	for _, ex := range w.Exercises {
		n += ex.HintsRevealed
	}
	return n
}

// EncodeWorkRecord serializes a record for persistence
func EncodeWorkRecord(w *WorkRecord) ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode work record: %w", err)
	}
	return data, nil
}

// DecodeWorkRecord parses a persisted record. Nil maps and unknown statuses
// are normalized so the result satisfies the same invariants as a fresh record.
func DecodeWorkRecord(data []byte) (*WorkRecord, error) {
	var w WorkRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode work record: %w", err)
	}
	if w.AssignmentID == "" {
		return nil, fmt.Errorf("decode work record: %w", ErrInvalidRecord)
	}
	if !w.Status.Valid() {
		w.Status = StatusNotStarted
	}
	if w.Exercises == nil {
		w.Exercises = make(map[string]*ExerciseWorkRecord)
	}
	for id, ex := range w.Exercises {
		if ex == nil {
			ex = NewExerciseWorkRecord()
			w.Exercises[id] = ex
		}
		ex.normalize()
	}
	return &w, nil
}

// VerificationKey builds the composite key of one checklist line item
func VerificationKey(blockID string, index int) string {
	return fmt.Sprintf("%s-%d", blockID, index)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

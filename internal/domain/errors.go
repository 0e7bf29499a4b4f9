package domain

import (
	"errors"
	"fmt"
)

// Content errors
var (
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrChapterNotFound    = errors.New("chapter not found")
)

// Progress errors
var (
	ErrInvalidRecord = errors.New("invalid work record")
	ErrUnknownStep   = errors.New("step does not belong to exercise")
)

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError describes a structural problem in an assignment definition
type ValidationError struct {
	Field  string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "blocks" {
		return fmt.Sprintf("invalid assignment: blocks[%d]: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid assignment: %s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidInput)
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

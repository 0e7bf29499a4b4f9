package progress

import (
	"errors"

	"github.com/academyhq/academy/internal/domain"
)

var (
	// ErrStaleResult is returned when a mutation guarded by IfEpoch arrives
	// after the assignment was reset
	ErrStaleResult = errors.New("assignment was reset; result discarded")

	// ErrUnknownExercise is returned when an exercise id is not part of the assignment
	ErrUnknownExercise = errors.New("exercise does not belong to assignment")

	// ErrNotCompletable is returned when an exercise group has no completed step
	ErrNotCompletable = errors.New("assignment is not ready to be completed")

	// ErrUnknownStep is returned when a step id is not a step of the exercise
	ErrUnknownStep = domain.ErrUnknownStep
)

package local

import "github.com/academyhq/academy/internal/domain"

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = domain.ErrNotFound
)

package domain

import "errors"

// Sentinel errors shared across packages. Callers match them with
// errors.Is after any number of %w wraps.
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFitted         = errors.New("model not fitted")
	ErrFeatureMismatch   = errors.New("feature width mismatch")
	ErrInvalidTransition = errors.New("invalid status transition")
)

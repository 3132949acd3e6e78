package domain

import "errors"

// Sentinel errors shared across the service and handler layers.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

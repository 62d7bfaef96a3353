package service

import "errors"

var (
	// ErrValidation wraps every input problem; handlers answer 400 with the wrapped text.
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	// ErrTransition is returned when the transition policy rejects a status change.
	ErrTransition = errors.New("status transition not allowed")
)

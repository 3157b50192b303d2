// Package fault holds the error kinds shared by the controllers and the HTTP layer.
package fault

import "errors"

var (
	// ErrInvalidState means the operation is not allowed from the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means required input was missing or malformed.
	ErrValidation = errors.New("validation error")
	// ErrConflict means the record already exists.
	ErrConflict = errors.New("conflict")
)

// Code returns a stable machine-readable code for err, or "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

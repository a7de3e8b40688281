package tracker

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("tracker: validation failed")
	ErrNotFound   = errors.New("tracker: not found")
)

// ValidationError points at the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func notFound(entity EntityType, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}

package auth

import "errors"

var (
	ErrValidation         = errors.New("auth: validation failed")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrDuplicateEmail     = errors.New("auth: email already registered")
	ErrNoUserForRole      = errors.New("auth: no user with this role")
	ErrNotFound           = errors.New("auth: user not found")
	ErrUnauthorized       = errors.New("auth: unauthorized")
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

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

package services

import (
	"errors"
	"fmt"

	"homeward/marketplace/internal/db"
)

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the acting user may not perform the operation.
	ErrUnauthorized = errors.New("not authorized")
	// ErrInvalidState is returned when a document is not in a state that allows the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict is returned when the operation collides with an existing or concurrent one.
	ErrConflict = errors.New("conflict")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrEmailExists is returned when an attempt is made to use an email that already exists.
	ErrEmailExists = errors.New("email already in use by another account")
	// ErrInvalidCredentials is returned by Authenticate for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// notFound maps the store's not-found error to ErrNotFound and wraps everything else.
func notFound(err error, what, id string) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

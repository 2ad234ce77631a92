package provider

import (
	"errors"
	"fmt"
)

// ErrUserNotFound is the only failure LoadUserByUsername reports for an
// unknown, ambiguous or unreachable directory user.
var ErrUserNotFound = errors.New("user not found")

// UserNotFoundError is returned by LoadUserByUsername.
type UserNotFoundError struct {
	Username  string
	Ambiguous bool
	cause     error
}

func (e *UserNotFoundError) Error() string {
	if e.Ambiguous {
		return "More than one user found"
	}
	return fmt.Sprintf("User %q not found.", e.Username)
}

func (e *UserNotFoundError) Is(target error) bool {
	return target == ErrUserNotFound
}

// Unwrap exposes the lookup failure for logging. Callers should only rely
// on ErrUserNotFound.
func (e *UserNotFoundError) Unwrap() error {
	return e.cause
}

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a required field is absent or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateUser is returned when the email is already registered.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingToken is returned when no refresh token was supplied.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidRefreshToken covers bad signatures, expiry and detected reuse.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrUserNotFound is returned when a verified token names a deleted user.
	ErrUserNotFound = errors.New("user not found")

	// ErrContention is returned when compare-and-swap retries are exhausted.
	ErrContention = errors.New("session state contended")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ValidationError names the offending field and wraps ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s is required", ErrValidation.Error(), e.Field)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// errReuse marks the refresh path that wipes the list before failing.
var errReuse = errors.New("refresh token reuse")

package jwt

import (
	"errors"
	"fmt"
)

// Sentinel errors for JWT validation. Each maps to a distinct
// authentication failure reason at the gateway boundary.
var (
	// ErrEmptyToken indicates that no token was supplied.
	ErrEmptyToken = errors.New("empty token")

	// ErrTokenMalformed indicates that the token could not be parsed.
	ErrTokenMalformed = errors.New("malformed token")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrUnknownKeyID indicates that no key in the set matches the
	// token's key ID.
	ErrUnknownKeyID = errors.New("unknown key id")

	// ErrInvalidSignature indicates that signature verification failed.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidIssuer indicates that the token issuer is not allowed.
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrMissingClaim indicates that a required claim is absent.
	ErrMissingClaim = errors.New("missing required claim")

	// ErrKeySetUnavailable indicates that the key set could not be
	// fetched and no cached copy exists.
	ErrKeySetUnavailable = errors.New("key set unavailable")
)

// ValidationError wraps a sentinel with human-readable context.
type ValidationError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jwt validation failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("jwt validation failed: %s", e.Message)
}

// Unwrap returns the underlying sentinel.
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError.
func NewValidationError(message string, err error) *ValidationError {
	return &ValidationError{Message: message, Err: err}
}

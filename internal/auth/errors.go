package auth

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable authentication failure code returned to
// callers alongside the HTTP status.
type Reason string

// Authentication failure reasons.
const (
	ReasonMissingCredentials Reason = "missing_credentials"
	ReasonMalformedToken     Reason = "malformed_token"
	ReasonExpiredToken       Reason = "expired_token"
	ReasonUnknownKeyID       Reason = "unknown_key_id"
	ReasonInvalidSignature   Reason = "invalid_signature"
	ReasonMissingClaim       Reason = "missing_claim"
	ReasonInvalidAPIKey      Reason = "invalid_api_key"
	ReasonTokenReviewDenied  Reason = "token_review_denied"
	ReasonAccessReviewDenied Reason = "access_review_denied"
	ReasonBadEncoding        Reason = "bad_encoding"
	ReasonBadDocument        Reason = "bad_document"
	ReasonMissingEntitlement Reason = "missing_entitlement"
	ReasonInternal           Reason = "internal"
)

// ErrUnauthenticated is the sentinel all authentication failures wrap.
var ErrUnauthenticated = errors.New("unauthenticated")

// Error is an authentication failure with a machine-readable reason.
type Error struct {
	Reason  Reason
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unauthenticated (%s): %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("unauthenticated (%s): %s", e.Reason, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether the target matches this error class.
func (e *Error) Is(target error) bool {
	if errors.Is(target, ErrUnauthenticated) {
		return true
	}
	_, ok := target.(*Error)
	return ok
}

// NewError creates an authentication error.
func NewError(reason Reason, message string) *Error {
	return &Error{Reason: reason, Message: message}
}

// WrapError creates an authentication error with a cause.
func WrapError(reason Reason, message string, cause error) *Error {
	return &Error{Reason: reason, Message: message, Cause: cause}
}

// ReasonOf returns the failure reason carried by err, or ReasonInternal
// when err is not an authentication error.
func ReasonOf(err error) Reason {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ReasonInternal
}

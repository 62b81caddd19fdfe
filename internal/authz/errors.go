package authz

import (
	"errors"
	"fmt"
)

// ErrForbidden is the sentinel all authorization denials wrap.
var ErrForbidden = errors.New("forbidden")

// DeniedError reports a denied action for a role set.
type DeniedError struct {
	// Action is the action that was denied.
	Action string

	// Roles are the roles the caller held.
	Roles []string
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("forbidden: roles %v may not perform action %q", e.Roles, e.Action)
}

// Is reports whether the target matches this error class.
func (e *DeniedError) Is(target error) bool {
	if errors.Is(target, ErrForbidden) {
		return true
	}
	_, ok := target.(*DeniedError)
	return ok
}

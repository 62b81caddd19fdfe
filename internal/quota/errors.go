package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is the sentinel all admission rejections wrap.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrStoreUnavailable indicates the ledger store could not be
	// reached.
	ErrStoreUnavailable = errors.New("quota store unavailable")
)

// QuotaExceededError reports an admission rejection with the capacity
// numbers the caller needs for a useful response.
type QuotaExceededError struct {
	// Subject is the accounting subject that ran out of capacity.
	Subject string

	// Limiter is the limiter that rejected the reservation.
	Limiter string

	// Available is the remaining capacity at rejection time.
	Available int64

	// Needed is the amount the reservation asked for.
	Needed int64
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s on limiter %s: available %d, needed %d",
		e.Subject, e.Limiter, e.Available, e.Needed)
}

// Is reports whether the target matches this error class.
func (e *QuotaExceededError) Is(target error) bool {
	if errors.Is(target, ErrQuotaExceeded) {
		return true
	}
	_, ok := target.(*QuotaExceededError)
	return ok
}

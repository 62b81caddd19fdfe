package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/llmgate/llmgate/internal/quota/store"
)

// nowFunc is the package time source, replaced by tests.
var nowFunc = time.Now

// reservationEntry is one hold taken on one limiter record.
type reservationEntry struct {
	key    store.Key
	id     string
	amount int64
}

// Reservation is the handle for capacity held across all configured
// limiters. It resolves exactly once, to Consume or to Revoke; later
// calls are no-ops.
type Reservation struct {
	ledger  *ledger
	entries []reservationEntry

	mu       sync.Mutex
	resolved bool
}

// Consume permanently spends the held capacity.
func (r *Reservation) Consume(ctx context.Context) error {
	return r.resolve(ctx, true)
}

// Revoke returns the held capacity to the ledger.
func (r *Reservation) Revoke(ctx context.Context) error {
	return r.resolve(ctx, false)
}

func (r *Reservation) resolve(ctx context.Context, consume bool) error {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return nil
	}
	r.resolved = true
	r.mu.Unlock()

	var errs []error
	for _, entry := range r.entries {
		var err error
		if consume {
			err = r.ledger.store.Consume(ctx, entry.key, entry.id)
		} else {
			err = r.ledger.store.Revoke(ctx, entry.key, entry.id)
		}
		// A reservation the scheduler already swept is resolved.
		if err != nil && !errors.Is(err, store.ErrUnknownReservation) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// revokeAll releases partial holds after a failed multi-limiter
// reservation.
func (r *Reservation) revokeAll(ctx context.Context) {
	for _, entry := range r.entries {
		_ = r.ledger.store.Revoke(ctx, entry.key, entry.id)
	}
	r.entries = nil
}

// Package store provides the quota record backends. Records hold the
// available and reserved capacity of one subject under one limiter;
// every mutation is atomic with respect to concurrent callers touching
// the same record.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownReservation indicates a consume or revoke for a
	// reservation the store does not hold.
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Key addresses one quota record.
type Key struct {
	// Limiter is the configured limiter name.
	Limiter string

	// Subject is the accounting subject.
	Subject string
}

// Record is the persisted state of one subject under one limiter.
type Record struct {
	// Available is the capacity that may still be reserved.
	// Never negative.
	Available int64

	// Reserved is capacity held by pending reservations.
	Reserved int64

	// PeriodEnd is when the current replenishment period elapses.
	PeriodEnd time.Time
}

// Init seeds a record created lazily on first use.
type Init struct {
	Available int64
	PeriodEnd time.Time
}

// Rollover advances a record into a new period. It applies only when
// the record's current period end equals Expected, so a concurrent
// rollover of the same record is applied once.
type Rollover struct {
	// Expected is the period end the caller observed.
	Expected time.Time

	// PeriodEnd is the new period end.
	PeriodEnd time.Time

	// Set, when non-nil, resets available capacity to a fixed value.
	Set *int64

	// Add, when non-nil, adds a delta to available capacity.
	Add *int64
}

// Store is a quota record backend.
type Store interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Reserve atomically moves amount from available to reserved under
	// the reservation id. A missing record is created from init first.
	// When capacity is insufficient it returns ok false and the
	// available capacity at decision time, without mutating the record.
	Reserve(ctx context.Context, key Key, id string, amount int64, init Init) (available int64, ok bool, err error)

	// Consume permanently discards the reserved amount of id.
	Consume(ctx context.Context, key Key, id string) error

	// Revoke returns the reserved amount of id to available.
	Revoke(ctx context.Context, key Key, id string) error

	// Get returns the record, or ErrNotFound.
	Get(ctx context.Context, key Key) (*Record, error)

	// Keys lists all record keys.
	Keys(ctx context.Context) ([]Key, error)

	// ApplyRollover advances the record into a new period. It reports
	// whether the guard matched and the rollover was applied.
	ApplyRollover(ctx context.Context, key Key, rollover Rollover) (bool, error)

	// Sweep revokes reservations created at or before cutoff and
	// returns the reclaimed amount.
	Sweep(ctx context.Context, key Key, cutoff time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}

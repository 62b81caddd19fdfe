// Package quota admits requests against per-subject token budgets. A
// request reserves capacity on every configured limiter before the
// backend call and resolves each reservation to consumption or
// revocation afterwards. A background scheduler advances replenishment
// periods and reclaims abandoned reservations.
package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/quota/store"
)

// ClusterSubject is the shared accounting subject of cluster-kind
// limiters.
const ClusterSubject = "cluster"

// Ledger admits requests against the configured limiters.
type Ledger interface {
	// Reserve holds amount on every configured limiter for subject.
	// Admission is all-or-nothing: when any limiter rejects, the holds
	// already taken are revoked and a *QuotaExceededError is returned.
	Reserve(ctx context.Context, subject string, amount int64) (*Reservation, error)
}

// limiter is a compiled QuotaLimiterSpec.
type limiter struct {
	spec config.QuotaLimiterSpec
}

// subjectFor scopes the accounting subject by limiter kind.
func (l *limiter) subjectFor(subject string) string {
	if l.spec.Kind == config.QuotaKindCluster {
		return ClusterSubject
	}
	return subject
}

// grant is the capacity a fresh record starts with.
func (l *limiter) grant() int64 {
	if l.spec.InitialQuota != nil {
		return *l.spec.InitialQuota
	}
	if l.spec.QuotaIncrease != nil {
		return *l.spec.QuotaIncrease
	}
	return 0
}

type ledger struct {
	store      store.Store
	limiters   []*limiter
	failClosed bool
	logger     observability.Logger
	metrics    *Metrics
	newID      func() string
}

// LedgerOption is a functional option for the ledger.
type LedgerOption func(*ledger)

// WithLedgerLogger sets the logger.
func WithLedgerLogger(logger observability.Logger) LedgerOption {
	return func(l *ledger) {
		l.logger = logger
	}
}

// WithLedgerMetrics sets the metrics collector.
func WithLedgerMetrics(m *Metrics) LedgerOption {
	return func(l *ledger) {
		l.metrics = m
	}
}

// NewLedger creates a ledger over the given store.
func NewLedger(cfg *config.QuotaConfig, s store.Store, opts ...LedgerOption) Ledger {
	l := &ledger{
		store:      s,
		failClosed: cfg.FailClosed,
		logger:     observability.NopLogger(),
		newID:      uuid.NewString,
	}
	for i := range cfg.Limiters {
		l.limiters = append(l.limiters, &limiter{spec: cfg.Limiters[i]})
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve takes a hold on every limiter. Holds are revoked together on
// any failure so a rejected request never leaks capacity.
func (l *ledger) Reserve(ctx context.Context, subject string, amount int64) (*Reservation, error) {
	reservation := &Reservation{ledger: l}

	for _, lim := range l.limiters {
		key := store.Key{
			Limiter: lim.spec.Name,
			Subject: lim.subjectFor(subject),
		}
		id := l.newID()
		init := store.Init{
			Available: lim.grant(),
			PeriodEnd: nowFunc().Add(lim.spec.Period.Duration()),
		}

		available, ok, err := l.store.Reserve(ctx, key, id, amount, init)
		if err != nil {
			reservation.revokeAll(ctx)
			if l.failClosed {
				if l.metrics != nil {
					l.metrics.RecordStoreError()
				}
				return nil, errors.Join(ErrStoreUnavailable, err)
			}
			// Fail open: the store outage must not take query traffic
			// down with it.
			l.logger.Warn("quota store unavailable, admitting without reservation",
				observability.String("subject", subject),
				observability.Error(err),
			)
			if l.metrics != nil {
				l.metrics.RecordStoreError()
			}
			return &Reservation{ledger: l}, nil
		}
		if !ok {
			reservation.revokeAll(ctx)
			if l.metrics != nil {
				l.metrics.RecordRejection(lim.spec.Name)
			}
			return nil, &QuotaExceededError{
				Subject:   key.Subject,
				Limiter:   lim.spec.Name,
				Available: available,
				Needed:    amount,
			}
		}
		reservation.entries = append(reservation.entries, reservationEntry{key: key, id: id, amount: amount})
	}

	if l.metrics != nil {
		l.metrics.RecordAdmission(amount)
	}
	return reservation, nil
}

var _ Ledger = (*ledger)(nil)

package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/quota/store"
)

// Scheduler advances ledger periods in the background. Expired records
// are rolled into a new period and reservations held past their TTL
// are reclaimed.
type Scheduler struct {
	store          store.Store
	limiters       map[string]*limiter
	interval       time.Duration
	connectRetries int
	connectBackoff time.Duration
	reservationTTL time.Duration
	logger         observability.Logger
	metrics        *Metrics

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// SchedulerOption is a functional option for the scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger observability.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerMetrics sets the metrics collector.
func WithSchedulerMetrics(m *Metrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// NewScheduler creates a scheduler for the configured limiters.
func NewScheduler(cfg *config.QuotaConfig, s store.Store, opts ...SchedulerOption) *Scheduler {
	sched := &Scheduler{
		store:          s,
		limiters:       make(map[string]*limiter, len(cfg.Limiters)),
		interval:       cfg.Scheduler.Interval.Duration(),
		connectRetries: cfg.Scheduler.ConnectRetries,
		connectBackoff: cfg.Scheduler.ConnectBackoff.Duration(),
		reservationTTL: cfg.ReservationTTL.Duration(),
		logger:         observability.NopLogger(),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for i := range cfg.Limiters {
		sched.limiters[cfg.Limiters[i].Name] = &limiter{spec: cfg.Limiters[i]}
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Start verifies store connectivity, retrying per configuration, and
// launches the background loop. It returns an error when the store
// never becomes reachable.
func (s *Scheduler) Start(ctx context.Context) error {
	var err error
	for attempt := 0; attempt <= s.connectRetries; attempt++ {
		if err = s.store.Ping(ctx); err == nil {
			break
		}
		s.logger.Warn("quota store not reachable",
			observability.Int("attempt", attempt+1),
			observability.Error(err),
		)
		select {
		case <-time.After(s.connectBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("quota store unreachable after %d attempts: %w", s.connectRetries+1, err)
	}

	go s.run()
	return nil
}

// Stop terminates the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Tick scans every record once, rolling over expired periods and
// sweeping stale reservations.
func (s *Scheduler) Tick(ctx context.Context) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		s.logger.Error("failed to list quota records", observability.Error(err))
		return
	}

	now := nowFunc()
	for _, key := range keys {
		lim, ok := s.limiters[key.Limiter]
		if !ok {
			// Record of a limiter no longer configured.
			continue
		}
		s.rollover(ctx, key, lim, now)
		s.sweep(ctx, key, now)
	}
}

// rollover advances an expired record by whole periods so the new
// period end always lands in the future on the original boundary grid.
func (s *Scheduler) rollover(ctx context.Context, key store.Key, lim *limiter, now time.Time) {
	record, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Error("failed to read quota record",
			observability.String("limiter", key.Limiter),
			observability.String("subject", key.Subject),
			observability.Error(err),
		)
		return
	}
	if now.Before(record.PeriodEnd) {
		return
	}

	period := lim.spec.Period.Duration()
	if period <= 0 {
		return
	}
	elapsed := now.Sub(record.PeriodEnd)/period + 1
	rollover := store.Rollover{
		Expected:  record.PeriodEnd,
		PeriodEnd: record.PeriodEnd.Add(time.Duration(elapsed) * period),
	}
	switch {
	case lim.spec.InitialQuota != nil:
		rollover.Set = lim.spec.InitialQuota
	case lim.spec.QuotaIncrease != nil:
		// Missed periods accumulate their increases.
		delta := *lim.spec.QuotaIncrease * int64(elapsed)
		rollover.Add = &delta
	}

	applied, err := s.store.ApplyRollover(ctx, key, rollover)
	if err != nil {
		s.logger.Error("failed to roll over quota record",
			observability.String("limiter", key.Limiter),
			observability.String("subject", key.Subject),
			observability.Error(err),
		)
		return
	}
	if applied {
		s.logger.Info("quota period rolled over",
			observability.String("limiter", key.Limiter),
			observability.String("subject", key.Subject),
			observability.Time("period_end", rollover.PeriodEnd),
		)
		if s.metrics != nil {
			s.metrics.RecordRollover(key.Limiter)
		}
	}
}

// sweep reclaims reservations that were never consumed or revoked,
// typically after a crash between reserve and resolve.
func (s *Scheduler) sweep(ctx context.Context, key store.Key, now time.Time) {
	if s.reservationTTL <= 0 {
		return
	}
	reclaimed, err := s.store.Sweep(ctx, key, now.Add(-s.reservationTTL))
	if err != nil {
		s.logger.Error("failed to sweep quota reservations",
			observability.String("limiter", key.Limiter),
			observability.String("subject", key.Subject),
			observability.Error(err),
		)
		return
	}
	if reclaimed > 0 {
		s.logger.Warn("reclaimed stale quota reservations",
			observability.String("limiter", key.Limiter),
			observability.String("subject", key.Subject),
			observability.Int64("reclaimed", reclaimed),
		)
		if s.metrics != nil {
			s.metrics.RecordSweep(key.Limiter, reclaimed)
		}
	}
}

package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/quota/store"
)

// withFrozenClock pins the package clock for the duration of a test.
// Tests using it must not run in parallel.
func withFrozenClock(t *testing.T, at time.Time) func(time.Time) {
	t.Helper()
	current := at
	nowFunc = func() time.Time { return current }
	t.Cleanup(func() { nowFunc = time.Now })
	return func(next time.Time) { current = next }
}

func schedulerConfig(limiters ...config.QuotaLimiterSpec) *config.QuotaConfig {
	return &config.QuotaConfig{
		Limiters: limiters,
		Scheduler: config.SchedulerConfig{
			Interval:       config.Duration(time.Minute),
			ConnectRetries: 1,
			ConnectBackoff: config.Duration(time.Millisecond),
		},
		ReservationTTL: config.Duration(10 * time.Minute),
	}
}

func TestScheduler_RolloverReset(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	advance := withFrozenClock(t, start)

	cfg := schedulerConfig(subjectLimiter("tokens", 100))
	s := store.NewMemoryStore()
	l := NewLedger(cfg, s)
	ctx := context.Background()

	reservation, err := l.Reserve(ctx, "alice", 80)
	require.NoError(t, err)
	require.NoError(t, reservation.Consume(ctx))

	// Two full periods elapse in one scheduler gap. The reset lands on
	// the original boundary grid, one whole period past now.
	advance(start.Add(2*time.Hour + 10*time.Minute))
	NewScheduler(cfg, s).Tick(ctx)

	record, err := s.Get(ctx, store.Key{Limiter: "tokens", Subject: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), record.Available)
	assert.True(t, record.PeriodEnd.Equal(start.Add(3*time.Hour)),
		"period end %v should be %v", record.PeriodEnd, start.Add(3*time.Hour))
}

func TestScheduler_RolloverIncrease(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	advance := withFrozenClock(t, start)

	cfg := schedulerConfig(config.QuotaLimiterSpec{
		Name:          "tokens",
		Kind:          config.QuotaKindSubject,
		QuotaIncrease: int64ptr(50),
		Period:        config.Duration(time.Hour),
	})
	s := store.NewMemoryStore()
	l := NewLedger(cfg, s)
	ctx := context.Background()

	// First use grants one period's increase.
	reservation, err := l.Reserve(ctx, "alice", 30)
	require.NoError(t, err)
	require.NoError(t, reservation.Consume(ctx))

	// Two missed periods accumulate two increases: 20 + 2*50.
	advance(start.Add(2*time.Hour + time.Minute))
	NewScheduler(cfg, s).Tick(ctx)

	record, err := s.Get(ctx, store.Key{Limiter: "tokens", Subject: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(120), record.Available)
}

func TestScheduler_ActiveRecordUntouched(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	advance := withFrozenClock(t, start)

	cfg := schedulerConfig(subjectLimiter("tokens", 100))
	s := store.NewMemoryStore()
	l := NewLedger(cfg, s)
	ctx := context.Background()

	reservation, err := l.Reserve(ctx, "alice", 80)
	require.NoError(t, err)
	require.NoError(t, reservation.Consume(ctx))

	advance(start.Add(30 * time.Minute))
	NewScheduler(cfg, s).Tick(ctx)

	record, err := s.Get(ctx, store.Key{Limiter: "tokens", Subject: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(20), record.Available)
	assert.True(t, record.PeriodEnd.Equal(start.Add(time.Hour)))
}

func TestScheduler_SweepsStaleReservations(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	advance := withFrozenClock(t, start)

	cfg := schedulerConfig(subjectLimiter("tokens", 100))
	// The store clock must match the frozen package clock so sweep
	// cutoffs line up.
	s := store.NewMemoryStore(store.WithClock(func() time.Time { return nowFunc() }))
	l := NewLedger(cfg, s)
	ctx := context.Background()

	// Reserved but never resolved, as after a crash mid-request.
	_, err := l.Reserve(ctx, "alice", 80)
	require.NoError(t, err)

	// Within the TTL nothing is reclaimed.
	advance(start.Add(5 * time.Minute))
	NewScheduler(cfg, s).Tick(ctx)

	record, err := s.Get(ctx, store.Key{Limiter: "tokens", Subject: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(80), record.Reserved)

	// Past the TTL the hold returns to available.
	advance(start.Add(11 * time.Minute))
	NewScheduler(cfg, s).Tick(ctx)

	record, err = s.Get(ctx, store.Key{Limiter: "tokens", Subject: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), record.Available)
	assert.Equal(t, int64(0), record.Reserved)
}

func TestScheduler_SkipsUnknownLimiters(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	advance := withFrozenClock(t, start)

	cfg := schedulerConfig(subjectLimiter("tokens", 100))
	s := store.NewMemoryStore()
	l := NewLedger(cfg, s)
	ctx := context.Background()

	reservation, err := l.Reserve(ctx, "alice", 80)
	require.NoError(t, err)
	require.NoError(t, reservation.Consume(ctx))

	// A scheduler that does not know the limiter leaves its records alone.
	advance(start.Add(2 * time.Hour))
	NewScheduler(schedulerConfig(), s).Tick(ctx)

	record, err := s.Get(ctx, store.Key{Limiter: "tokens", Subject: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(20), record.Available)
}

// pingFailStore fails Ping a fixed number of times before recovering.
type pingFailStore struct {
	store.Store
	failures int
}

func (p *pingFailStore) Ping(ctx context.Context) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("connection refused")
	}
	return p.Store.Ping(ctx)
}

func TestScheduler_StartRetriesPing(t *testing.T) {
	t.Parallel()

	cfg := schedulerConfig(subjectLimiter("tokens", 100))
	s := &pingFailStore{Store: store.NewMemoryStore(), failures: 1}

	sched := NewScheduler(cfg, s)
	require.NoError(t, sched.Start(context.Background()))
	sched.Stop()
}

func TestScheduler_StartGivesUp(t *testing.T) {
	t.Parallel()

	cfg := schedulerConfig(subjectLimiter("tokens", 100))
	s := &pingFailStore{Store: store.NewMemoryStore(), failures: 10}

	err := NewScheduler(cfg, s).Start(context.Background())
	assert.Error(t, err)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStoreWithClient(client, "quota:"),
	}
}

func testInit(available int64) Init {
	return Init{
		Available: available,
		PeriodEnd: time.Now().Add(time.Hour).Truncate(time.Second),
	}
}

func TestStore_ReserveConsume(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Limiter: "requests", Subject: "alice"}

			available, ok, err := s.Reserve(ctx, key, "r1", 40, testInit(100))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(60), available)

			record, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(60), record.Available)
			assert.Equal(t, int64(40), record.Reserved)

			require.NoError(t, s.Consume(ctx, key, "r1"))

			record, err = s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(60), record.Available)
			assert.Equal(t, int64(0), record.Reserved)
		})
	}
}

func TestStore_ReserveRevoke(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Limiter: "requests", Subject: "alice"}

			_, ok, err := s.Reserve(ctx, key, "r1", 40, testInit(100))
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, s.Revoke(ctx, key, "r1"))

			record, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(100), record.Available)
			assert.Equal(t, int64(0), record.Reserved)
		})
	}
}

func TestStore_ReserveInsufficient(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Limiter: "requests", Subject: "alice"}

			_, ok, err := s.Reserve(ctx, key, "r1", 40, testInit(100))
			require.NoError(t, err)
			require.True(t, ok)

			// 60 remain, 70 must be rejected and report the remainder.
			available, ok, err := s.Reserve(ctx, key, "r2", 70, testInit(100))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, int64(60), available)

			// The rejection did not touch the record.
			record, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(60), record.Available)
			assert.Equal(t, int64(40), record.Reserved)
		})
	}
}

func TestStore_ReserveExactBoundary(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Limiter: "requests", Subject: "alice"}

			available, ok, err := s.Reserve(ctx, key, "r1", 100, testInit(100))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(0), available)

			_, ok, err = s.Reserve(ctx, key, "r2", 1, testInit(100))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_UnknownReservation(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Limiter: "requests", Subject: "alice"}

			_, _, err := s.Reserve(ctx, key, "r1", 10, testInit(100))
			require.NoError(t, err)

			assert.ErrorIs(t, s.Consume(ctx, key, "nope"), ErrUnknownReservation)
			assert.ErrorIs(t, s.Revoke(ctx, key, "nope"), ErrUnknownReservation)

			// A reservation resolves exactly once.
			require.NoError(t, s.Consume(ctx, key, "r1"))
			assert.ErrorIs(t, s.Revoke(ctx, key, "r1"), ErrUnknownReservation)
		})
	}
}

func TestStore_Keys(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, _, err := s.Reserve(ctx, Key{Limiter: "requests", Subject: "alice"}, "r1", 1, testInit(100))
			require.NoError(t, err)
			_, _, err = s.Reserve(ctx, Key{Limiter: "tokens", Subject: "bob"}, "r2", 1, testInit(100))
			require.NoError(t, err)

			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []Key{
				{Limiter: "requests", Subject: "alice"},
				{Limiter: "tokens", Subject: "bob"},
			}, keys)
		})
	}
}

func TestStore_ApplyRollover(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Limiter: "requests", Subject: "alice"}
			init := testInit(100)

			_, _, err := s.Reserve(ctx, key, "r1", 30, init)
			require.NoError(t, err)

			reset := int64(100)
			next := init.PeriodEnd.Add(time.Hour)
			applied, err := s.ApplyRollover(ctx, key, Rollover{
				Expected:  init.PeriodEnd,
				PeriodEnd: next,
				Set:       &reset,
			})
			require.NoError(t, err)
			assert.True(t, applied)

			record, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(100), record.Available)
			assert.True(t, record.PeriodEnd.Equal(next))

			// A stale guard is a no-op.
			applied, err = s.ApplyRollover(ctx, key, Rollover{
				Expected:  init.PeriodEnd,
				PeriodEnd: next.Add(time.Hour),
				Set:       &reset,
			})
			require.NoError(t, err)
			assert.False(t, applied)
		})
	}
}

func TestStore_ApplyRolloverAdd(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Limiter: "tokens", Subject: "alice"}
			init := testInit(100)

			_, _, err := s.Reserve(ctx, key, "r1", 30, init)
			require.NoError(t, err)
			require.NoError(t, s.Consume(ctx, key, "r1"))

			delta := int64(50)
			applied, err := s.ApplyRollover(ctx, key, Rollover{
				Expected:  init.PeriodEnd,
				PeriodEnd: init.PeriodEnd.Add(time.Hour),
				Add:       &delta,
			})
			require.NoError(t, err)
			assert.True(t, applied)

			record, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(120), record.Available)
		})
	}
}

func TestStore_Sweep(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{Limiter: "requests", Subject: "alice"}

			_, _, err := s.Reserve(ctx, key, "r1", 40, testInit(100))
			require.NoError(t, err)

			// Everything created up to now is stale.
			reclaimed, err := s.Sweep(ctx, key, time.Now().Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, int64(40), reclaimed)

			record, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(100), record.Available)
			assert.Equal(t, int64(0), record.Reserved)

			// Swept reservations are gone.
			assert.ErrorIs(t, s.Revoke(ctx, key, "r1"), ErrUnknownReservation)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), Key{Limiter: "x", Subject: "y"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/llmgate/llmgate/internal/config"
)

// Record hashes carry these fields. Reservations live in a companion
// hash so sweeps can walk them without touching the record fields.
const (
	fieldAvailable = "available"
	fieldReserved  = "reserved"
	fieldPeriodEnd = "period_end"
)

// reserveScript creates the record from the init values when absent,
// then moves amount from available to reserved under the reservation
// id. Returns {1, available} on success and {0, available} when the
// capacity is insufficient.
var reserveScript = redis.NewScript(`
local record = KEYS[1]
local resv = KEYS[2]
local amount = tonumber(ARGV[1])
if redis.call('EXISTS', record) == 0 then
  redis.call('HSET', record,
    'available', ARGV[2],
    'reserved', 0,
    'period_end', ARGV[3])
end
local available = tonumber(redis.call('HGET', record, 'available'))
if available < amount then
  return {0, available}
end
redis.call('HINCRBY', record, 'available', -amount)
redis.call('HINCRBY', record, 'reserved', amount)
redis.call('HSET', resv, ARGV[4], amount .. '|' .. ARGV[5])
return {1, available - amount}
`)

// consumeScript discards the reserved amount of a reservation.
var consumeScript = redis.NewScript(`
local entry = redis.call('HGET', KEYS[2], ARGV[1])
if not entry then
  return 0
end
local amount = tonumber(string.match(entry, '^(%d+)|'))
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HINCRBY', KEYS[1], 'reserved', -amount)
return 1
`)

// revokeScript returns the reserved amount of a reservation to
// available.
var revokeScript = redis.NewScript(`
local entry = redis.call('HGET', KEYS[2], ARGV[1])
if not entry then
  return 0
end
local amount = tonumber(string.match(entry, '^(%d+)|'))
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HINCRBY', KEYS[1], 'reserved', -amount)
redis.call('HINCRBY', KEYS[1], 'available', amount)
return 1
`)

// rolloverScript advances the period when the stored period end still
// matches the caller's guard.
var rolloverScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'period_end')
if not current or current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'period_end', ARGV[2])
if ARGV[3] == 'set' then
  redis.call('HSET', KEYS[1], 'available', ARGV[4])
elseif ARGV[3] == 'add' then
  redis.call('HINCRBY', KEYS[1], 'available', ARGV[4])
end
return 1
`)

// sweepScript revokes reservations created at or before the cutoff.
var sweepScript = redis.NewScript(`
local entries = redis.call('HGETALL', KEYS[2])
local reclaimed = 0
for i = 1, #entries, 2 do
  local id = entries[i]
  local amount, created = string.match(entries[i + 1], '^(%d+)|(%d+)$')
  if created and tonumber(created) <= tonumber(ARGV[1]) then
    redis.call('HDEL', KEYS[2], id)
    redis.call('HINCRBY', KEYS[1], 'reserved', -tonumber(amount))
    redis.call('HINCRBY', KEYS[1], 'available', tonumber(amount))
    reclaimed = reclaimed + tonumber(amount)
  end
end
return reclaimed
`)

// redisStore keeps records in Redis hashes so replicas share one
// ledger. All mutations run as Lua scripts for atomicity.
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg *config.RedisConfig) Store {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout.Duration(),
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
	})
	return NewRedisStoreWithClient(client, cfg.Prefix)
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client, prefix string) Store {
	if prefix == "" {
		prefix = "quota:"
	}
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) recordKey(key Key) string {
	return s.prefix + "record:" + key.Limiter + ":" + key.Subject
}

func (s *redisStore) resvKey(key Key) string {
	return s.prefix + "resv:" + key.Limiter + ":" + key.Subject
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *redisStore) Reserve(ctx context.Context, key Key, id string, amount int64, init Init) (int64, bool, error) {
	result, err := reserveScript.Run(ctx, s.client,
		[]string{s.recordKey(key), s.resvKey(key)},
		amount, init.Available, init.PeriodEnd.Unix(), id, time.Now().Unix(),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis reserve failed: %w", err)
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("redis reserve returned %d values", len(result))
	}
	return result[1], result[0] == 1, nil
}

func (s *redisStore) Consume(ctx context.Context, key Key, id string) error {
	applied, err := consumeScript.Run(ctx, s.client,
		[]string{s.recordKey(key), s.resvKey(key)}, id).Int64()
	if err != nil {
		return fmt.Errorf("redis consume failed: %w", err)
	}
	if applied == 0 {
		return ErrUnknownReservation
	}
	return nil
}

func (s *redisStore) Revoke(ctx context.Context, key Key, id string) error {
	applied, err := revokeScript.Run(ctx, s.client,
		[]string{s.recordKey(key), s.resvKey(key)}, id).Int64()
	if err != nil {
		return fmt.Errorf("redis revoke failed: %w", err)
	}
	if applied == 0 {
		return ErrUnknownReservation
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, key Key) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	record := &Record{}
	if _, err := fmt.Sscanf(fields[fieldAvailable], "%d", &record.Available); err != nil {
		return nil, fmt.Errorf("malformed available field: %w", err)
	}
	if _, err := fmt.Sscanf(fields[fieldReserved], "%d", &record.Reserved); err != nil {
		return nil, fmt.Errorf("malformed reserved field: %w", err)
	}
	var periodEnd int64
	if _, err := fmt.Sscanf(fields[fieldPeriodEnd], "%d", &periodEnd); err != nil {
		return nil, fmt.Errorf("malformed period_end field: %w", err)
	}
	record.PeriodEnd = time.Unix(periodEnd, 0)
	return record, nil
}

func (s *redisStore) Keys(ctx context.Context) ([]Key, error) {
	var keys []Key
	iter := s.client.Scan(ctx, 0, s.prefix+"record:*", 100).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), s.prefix+"record:")
		limiter, subject, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		keys = append(keys, Key{Limiter: limiter, Subject: subject})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return keys, nil
}

func (s *redisStore) ApplyRollover(ctx context.Context, key Key, rollover Rollover) (bool, error) {
	mode, value := "none", int64(0)
	switch {
	case rollover.Set != nil:
		mode, value = "set", *rollover.Set
	case rollover.Add != nil:
		mode, value = "add", *rollover.Add
	}

	applied, err := rolloverScript.Run(ctx, s.client,
		[]string{s.recordKey(key)},
		rollover.Expected.Unix(), rollover.PeriodEnd.Unix(), mode, value,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rollover failed: %w", err)
	}
	return applied == 1, nil
}

func (s *redisStore) Sweep(ctx context.Context, key Key, cutoff time.Time) (int64, error) {
	reclaimed, err := sweepScript.Run(ctx, s.client,
		[]string{s.recordKey(key), s.resvKey(key)}, cutoff.Unix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis sweep failed: %w", err)
	}
	return reclaimed, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*redisStore)(nil)

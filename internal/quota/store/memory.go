package store

import (
	"context"
	"sync"
	"time"
)

// memoryReservation tracks one pending reservation for TTL sweeps.
type memoryReservation struct {
	amount  int64
	created time.Time
}

type memoryRecord struct {
	mu           sync.Mutex
	record       Record
	reservations map[string]*memoryReservation
}

// memoryStore keeps records in process memory. Suitable for a single
// replica and for tests.
type memoryStore struct {
	mu      sync.RWMutex
	records map[Key]*memoryRecord
	now     func() time.Time
}

// MemoryOption is a functional option for the memory store.
type MemoryOption func(*memoryStore)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *memoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...MemoryOption) Store {
	s := &memoryStore{
		records: make(map[Key]*memoryRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memoryStore) Ping(ctx context.Context) error { return nil }

// get returns the record holder for key, creating it from init when
// create is set.
func (s *memoryStore) get(key Key, init *Init) *memoryRecord {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if ok || init == nil {
		return rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok = s.records[key]; ok {
		return rec
	}
	rec = &memoryRecord{
		record: Record{
			Available: init.Available,
			PeriodEnd: init.PeriodEnd,
		},
		reservations: make(map[string]*memoryReservation),
	}
	s.records[key] = rec
	return rec
}

func (s *memoryStore) Reserve(ctx context.Context, key Key, id string, amount int64, init Init) (int64, bool, error) {
	rec := s.get(key, &init)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.record.Available < amount {
		return rec.record.Available, false, nil
	}
	rec.record.Available -= amount
	rec.record.Reserved += amount
	rec.reservations[id] = &memoryReservation{amount: amount, created: s.now()}
	return rec.record.Available, true, nil
}

func (s *memoryStore) Consume(ctx context.Context, key Key, id string) error {
	rec := s.get(key, nil)
	if rec == nil {
		return ErrUnknownReservation
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	resv, ok := rec.reservations[id]
	if !ok {
		return ErrUnknownReservation
	}
	delete(rec.reservations, id)
	rec.record.Reserved -= resv.amount
	return nil
}

func (s *memoryStore) Revoke(ctx context.Context, key Key, id string) error {
	rec := s.get(key, nil)
	if rec == nil {
		return ErrUnknownReservation
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	resv, ok := rec.reservations[id]
	if !ok {
		return ErrUnknownReservation
	}
	delete(rec.reservations, id)
	rec.record.Reserved -= resv.amount
	rec.record.Available += resv.amount
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key Key) (*Record, error) {
	rec := s.get(key, nil)
	if rec == nil {
		return nil, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	snapshot := rec.record
	return &snapshot, nil
}

func (s *memoryStore) Keys(ctx context.Context) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memoryStore) ApplyRollover(ctx context.Context, key Key, rollover Rollover) (bool, error) {
	rec := s.get(key, nil)
	if rec == nil {
		return false, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.record.PeriodEnd.Equal(rollover.Expected) {
		return false, nil
	}
	rec.record.PeriodEnd = rollover.PeriodEnd
	switch {
	case rollover.Set != nil:
		rec.record.Available = *rollover.Set
	case rollover.Add != nil:
		rec.record.Available += *rollover.Add
	}
	return true, nil
}

func (s *memoryStore) Sweep(ctx context.Context, key Key, cutoff time.Time) (int64, error) {
	rec := s.get(key, nil)
	if rec == nil {
		return 0, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	var reclaimed int64
	for id, resv := range rec.reservations {
		if resv.created.After(cutoff) {
			continue
		}
		delete(rec.reservations, id)
		rec.record.Reserved -= resv.amount
		rec.record.Available += resv.amount
		reclaimed += resv.amount
	}
	return reclaimed, nil
}

func (s *memoryStore) Close() error { return nil }

var _ Store = (*memoryStore)(nil)

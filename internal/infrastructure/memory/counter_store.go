package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
)

// DefaultCapacity bounds the number of live counters kept in process.
const DefaultCapacity = 100_000

type entry struct {
	count       int64
	periodStart time.Time
	expiresAt   time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// CounterStore implements ports.CounterStore in process. Memory is bounded by an LRU;
// an evicted counter is simply recomputed by its owner on the next miss.
type CounterStore struct {
	mu    sync.Mutex
	items *simplelru.LRU[string, *entry]
	now   func() time.Time
}

// NewCounterStore creates a store holding at most capacity counters.
func NewCounterStore(capacity int) (*CounterStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	items, err := simplelru.NewLRU[string, *entry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter lru: %w", err)
	}
	return &CounterStore{items: items, now: time.Now}, nil
}

// WithClock replaces the clock used for TTL bookkeeping.
func (s *CounterStore) WithClock(now func() time.Time) *CounterStore {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Len reports the number of tracked counters, expired ones included until touched.
func (s *CounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Len()
}

// live must be called with s.mu held.
func (s *CounterStore) live(key string, now time.Time) (*entry, bool) {
	e, ok := s.items.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		s.items.Remove(key)
		return nil, false
	}
	return e, true
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func record(key string, e *entry) quota.CounterRecord {
	return quota.CounterRecord{Key: key, PeriodStart: e.periodStart, Count: e.count, ExpiresAt: e.expiresAt}
}

func ctxErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", admission.ErrStoreUnavailable, op, err)
	}
	return nil
}

func (s *CounterStore) Get(ctx context.Context, key string) (quota.CounterRecord, bool, error) {
	if err := ctxErr(ctx, "get"); err != nil {
		return quota.CounterRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, s.now())
	if !ok {
		return quota.CounterRecord{}, false, nil
	}
	return record(key, e), true, nil
}

func (s *CounterStore) Put(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) error {
	if err := ctxErr(ctx, "put"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Add(key, &entry{count: rec.Count, periodStart: rec.PeriodStart, expiresAt: expiry(s.now(), ttl)})
	return nil
}

func (s *CounterStore) PutIfAbsent(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) (quota.CounterRecord, error) {
	if err := ctxErr(ctx, "put_if_absent"); err != nil {
		return quota.CounterRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.live(key, now); ok {
		return record(key, e), nil
	}
	e := &entry{count: rec.Count, periodStart: rec.PeriodStart, expiresAt: expiry(now, ttl)}
	s.items.Add(key, e)
	return record(key, e), nil
}

func (s *CounterStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := ctxErr(ctx, "increment"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.live(key, now)
	if !ok {
		e = &entry{expiresAt: expiry(now, ttl)}
		s.items.Add(key, e)
	}
	e.count += delta
	return e.count, nil
}

func (s *CounterStore) IncrementExisting(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if err := ctxErr(ctx, "increment_existing"); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, s.now())
	if !ok {
		return 0, false, nil
	}
	e.count += delta
	return e.count, true, nil
}

func (s *CounterStore) Ping(ctx context.Context) error {
	return ctxErr(ctx, "ping")
}

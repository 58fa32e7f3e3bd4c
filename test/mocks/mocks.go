package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/hit"
	"github.com/avatarctic/quota-admission/internal/core/domain/profile"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/domain/ratelimit"
)

// CounterStoreMock
type CounterStoreMock struct {
	GetFn               func(ctx context.Context, key string) (quota.CounterRecord, bool, error)
	PutFn               func(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) error
	PutIfAbsentFn       func(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) (quota.CounterRecord, error)
	IncrementFn         func(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	IncrementExistingFn func(ctx context.Context, key string, delta int64) (int64, bool, error)
	PingFn              func(ctx context.Context) error
}

func (m *CounterStoreMock) Get(ctx context.Context, key string) (quota.CounterRecord, bool, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, key)
	}
	return quota.CounterRecord{}, false, nil
}
func (m *CounterStoreMock) Put(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) error {
	if m.PutFn != nil {
		return m.PutFn(ctx, key, rec, ttl)
	}
	return nil
}
func (m *CounterStoreMock) PutIfAbsent(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) (quota.CounterRecord, error) {
	if m.PutIfAbsentFn != nil {
		return m.PutIfAbsentFn(ctx, key, rec, ttl)
	}
	return rec, nil
}
func (m *CounterStoreMock) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if m.IncrementFn != nil {
		return m.IncrementFn(ctx, key, delta, ttl)
	}
	return delta, nil
}
func (m *CounterStoreMock) IncrementExisting(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if m.IncrementExistingFn != nil {
		return m.IncrementExistingFn(ctx, key, delta)
	}
	return 0, false, nil
}
func (m *CounterStoreMock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}

// UnavailableStore returns a store mock whose every operation fails with ErrStoreUnavailable.
func UnavailableStore() *CounterStoreMock {
	err := admission.ErrStoreUnavailable
	return &CounterStoreMock{
		GetFn: func(context.Context, string) (quota.CounterRecord, bool, error) {
			return quota.CounterRecord{}, false, err
		},
		PutFn: func(context.Context, string, quota.CounterRecord, time.Duration) error { return err },
		PutIfAbsentFn: func(context.Context, string, quota.CounterRecord, time.Duration) (quota.CounterRecord, error) {
			return quota.CounterRecord{}, err
		},
		IncrementFn: func(context.Context, string, int64, time.Duration) (int64, error) { return 0, err },
		IncrementExistingFn: func(context.Context, string, int64) (int64, bool, error) {
			return 0, false, err
		},
		PingFn: func(context.Context) error { return err },
	}
}

// HitRepositoryMock also serves as a HitOracle. Calls counts CountHits invocations.
type HitRepositoryMock struct {
	CountHitsFn func(ctx context.Context, identityID uuid.UUID, start, end time.Time) (int64, error)
	CreateFn    func(ctx context.Context, h *hit.Hit) error

	mu      sync.Mutex
	calls   int
	created []*hit.Hit
}

func (m *HitRepositoryMock) CountHits(ctx context.Context, identityID uuid.UUID, start, end time.Time) (int64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.CountHitsFn != nil {
		return m.CountHitsFn(ctx, identityID, start, end)
	}
	return 0, nil
}
func (m *HitRepositoryMock) Create(ctx context.Context, h *hit.Hit) error {
	m.mu.Lock()
	m.created = append(m.created, h)
	m.mu.Unlock()
	if m.CreateFn != nil {
		return m.CreateFn(ctx, h)
	}
	return nil
}
func (m *HitRepositoryMock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
func (m *HitRepositoryMock) Created() []*hit.Hit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*hit.Hit(nil), m.created...)
}

// ProfileRepositoryMock
type ProfileRepositoryMock struct {
	GetByIDFn func(ctx context.Context, id uuid.UUID) (*profile.Profile, error)
}

func (m *ProfileRepositoryMock) GetByID(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, admission.ErrProfileNotFound
}

// QuotaNotifierMock
type QuotaNotifierMock struct {
	NotifyOverQuotaFn func(ctx context.Context, identity quota.Identity, status quota.Status) error
}

func (m *QuotaNotifierMock) NotifyOverQuota(ctx context.Context, identity quota.Identity, status quota.Status) error {
	if m.NotifyOverQuotaFn != nil {
		return m.NotifyOverQuotaFn(ctx, identity, status)
	}
	return nil
}

// RateLimiterServiceMock
type RateLimiterServiceMock struct {
	CheckFn func(ctx context.Context, sourceKey string, now time.Time) (ratelimit.Status, error)
}

func (m *RateLimiterServiceMock) Check(ctx context.Context, sourceKey string, now time.Time) (ratelimit.Status, error) {
	if m.CheckFn != nil {
		return m.CheckFn(ctx, sourceKey, now)
	}
	return ratelimit.Status{Limit: 50, Count: 1}, nil
}

// QuotaServiceMock
type QuotaServiceMock struct {
	CheckFn  func(ctx context.Context, identity quota.Identity, now time.Time) (quota.Status, error)
	RecordFn func(ctx context.Context, identity quota.Identity, now time.Time) (int64, error)
}

func (m *QuotaServiceMock) Check(ctx context.Context, identity quota.Identity, now time.Time) (quota.Status, error) {
	if m.CheckFn != nil {
		return m.CheckFn(ctx, identity, now)
	}
	return quota.Status{Limit: 10000, Allowed: true, Period: quota.BoundaryFor(now, identity.TimezoneOffset)}, nil
}
func (m *QuotaServiceMock) Record(ctx context.Context, identity quota.Identity, now time.Time) (int64, error) {
	if m.RecordFn != nil {
		return m.RecordFn(ctx, identity, now)
	}
	return 1, nil
}

// AdmissionServiceMock
type AdmissionServiceMock struct {
	DecideFn func(ctx context.Context, identity quota.Identity, sourceKey string, now time.Time) admission.Decision
}

func (m *AdmissionServiceMock) Decide(ctx context.Context, identity quota.Identity, sourceKey string, now time.Time) admission.Decision {
	if m.DecideFn != nil {
		return m.DecideFn(ctx, identity, sourceKey, now)
	}
	return admission.Allow()
}

// IdentityResolverMock
type IdentityResolverMock struct {
	ResolveFn func(ctx context.Context, id uuid.UUID, now time.Time) quota.Identity
}

func (m *IdentityResolverMock) Resolve(ctx context.Context, id uuid.UUID, now time.Time) quota.Identity {
	if m.ResolveFn != nil {
		return m.ResolveFn(ctx, id, now)
	}
	return quota.Identity{ID: id}
}

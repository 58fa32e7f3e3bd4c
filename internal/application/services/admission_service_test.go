package services_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	impl "github.com/avatarctic/quota-admission/internal/application/services"
	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/domain/ratelimit"
	tmocks "github.com/avatarctic/quota-admission/test/mocks"
)

type fakeMetrics struct {
	mu        sync.Mutex
	decisions []admission.Decision
	failures  []string
	records   int
	recordErr int
}

func (m *fakeMetrics) ObserveDecision(d admission.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
}

func (m *fakeMetrics) DependencyFailure(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, component)
}

func (m *fakeMetrics) OracleQuery(time.Duration, error) {}

func (m *fakeMetrics) RecordResult(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records++
	if err != nil {
		m.recordErr++
	}
}

func (m *fakeMetrics) Failures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.failures...)
}

func newStoreBackedAdmission(t *testing.T, oracleCount int64, cfg *impl.AdmissionConfig) *impl.AdmissionService {
	t.Helper()
	store := newMemoryStore(t)
	deps := impl.AdmissionDeps{
		RateLimiter: impl.NewRateLimiterService(store, nil, nil),
		Quota:       impl.NewQuotaService(store, oracleReturning(oracleCount), nil, nil, nil),
	}
	return impl.NewAdmissionService(deps, cfg, nil)
}

func TestAdmission_AllowsAndRecords(t *testing.T) {
	ctx := context.Background()
	svc := newStoreBackedAdmission(t, 0, nil)
	id := quota.Identity{ID: uuid.New()}

	d := svc.Decide(ctx, id, "203.0.113.1", may15)
	assert.True(t, d.Allowed)
	assert.Equal(t, admission.ReasonOK, d.Reason)
	require.NotNil(t, d.Rate)
	assert.Equal(t, int64(1), d.Rate.Used)
	require.NotNil(t, d.Quota)
	assert.Equal(t, int64(1), d.Quota.Used)
	assert.Equal(t, int64(9999), d.Quota.Remaining())

	d = svc.Decide(ctx, id, "203.0.113.1", may15)
	require.NotNil(t, d.Quota)
	assert.Equal(t, int64(2), d.Quota.Used)
}

func TestAdmission_RecordedHitIsVisibleToNextDecision(t *testing.T) {
	ctx := context.Background()
	svc := newStoreBackedAdmission(t, 9999, &impl.AdmissionConfig{RecordWorkers: 4})
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	id := quota.Identity{ID: uuid.New()}

	first := svc.Decide(ctx, id, "203.0.113.1", may15)
	assert.True(t, first.Allowed)

	second := svc.Decide(ctx, id, "203.0.113.1", may15)
	assert.False(t, second.Allowed)
	assert.Equal(t, admission.ReasonOverQuota, second.Reason)
	require.NotNil(t, second.Quota)
	assert.Equal(t, int64(10000), second.Quota.Used)
}

func TestAdmission_RateLimitAfterFiftyRequests(t *testing.T) {
	ctx := context.Background()
	svc := newStoreBackedAdmission(t, 0, nil)
	now := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)

	for i := 0; i < 50; i++ {
		d := svc.Decide(ctx, quota.Identity{ID: uuid.New()}, "198.51.100.9", now)
		require.True(t, d.Allowed, "request %d", i+1)
	}
	d := svc.Decide(ctx, quota.Identity{ID: uuid.New()}, "198.51.100.9", now)
	assert.False(t, d.Allowed)
	assert.Equal(t, admission.ReasonRateLimited, d.Reason)
	assert.Equal(t, 9*time.Second, d.RetryAfter)
	assert.Equal(t, int64(9), d.RetryAfterSeconds())
}

func TestAdmission_RateLimitedSkipsQuota(t *testing.T) {
	var quotaCalls int32
	rl := &tmocks.RateLimiterServiceMock{CheckFn: func(context.Context, string, time.Time) (ratelimit.Status, error) {
		return ratelimit.Status{Throttled: true, Count: 51, Limit: 50, RetryAfter: 4 * time.Second}, nil
	}}
	q := &tmocks.QuotaServiceMock{CheckFn: func(context.Context, quota.Identity, time.Time) (quota.Status, error) {
		atomic.AddInt32(&quotaCalls, 1)
		return quota.Status{Allowed: true}, nil
	}}
	svc := impl.NewAdmissionService(impl.AdmissionDeps{RateLimiter: rl, Quota: q}, nil, nil)

	d := svc.Decide(context.Background(), quota.Identity{ID: uuid.New()}, "src", may15)
	assert.Equal(t, admission.ReasonRateLimited, d.Reason)
	assert.Equal(t, 4*time.Second, d.RetryAfter)
	require.NotNil(t, d.Rate)
	assert.Equal(t, int64(0), d.Rate.Remaining())
	assert.Zero(t, atomic.LoadInt32(&quotaCalls))
}

func TestAdmission_OverQuotaNotifiesAndDoesNotRecord(t *testing.T) {
	id := quota.Identity{ID: uuid.New(), TimezoneOffset: 600}
	period := quota.BoundaryFor(may15, id.TimezoneOffset)
	var recorded, notified int32
	q := &tmocks.QuotaServiceMock{
		CheckFn: func(context.Context, quota.Identity, time.Time) (quota.Status, error) {
			return quota.Status{Count: 10000, Limit: 10000, Period: period}, nil
		},
		RecordFn: func(context.Context, quota.Identity, time.Time) (int64, error) {
			atomic.AddInt32(&recorded, 1)
			return 0, nil
		},
	}
	notifier := &tmocks.QuotaNotifierMock{NotifyOverQuotaFn: func(_ context.Context, got quota.Identity, st quota.Status) error {
		assert.Equal(t, id.ID, got.ID)
		assert.Equal(t, int64(10000), st.Count)
		atomic.AddInt32(&notified, 1)
		return nil
	}}
	svc := impl.NewAdmissionService(impl.AdmissionDeps{RateLimiter: &tmocks.RateLimiterServiceMock{}, Quota: q, Notifier: notifier}, nil, nil)

	d := svc.Decide(context.Background(), id, "src", may15)
	assert.False(t, d.Allowed)
	assert.Equal(t, admission.ReasonOverQuota, d.Reason)
	assert.Equal(t, "over quota", d.Reason.Message())
	assert.Equal(t, period.End.Sub(may15), d.RetryAfter)
	require.NotNil(t, d.Quota)
	assert.True(t, d.Quota.Reset.Equal(period.End))

	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&notified))
	assert.Zero(t, atomic.LoadInt32(&recorded))
}

func TestAdmission_FailClosedDeniesWhenStoreUnavailable(t *testing.T) {
	store := tmocks.UnavailableStore()
	metrics := &fakeMetrics{}
	logger, hook := logtest.NewNullLogger()
	svc := impl.NewAdmissionService(impl.AdmissionDeps{
		RateLimiter: impl.NewRateLimiterService(store, nil, nil),
		Quota:       impl.NewQuotaService(store, oracleReturning(0), nil, nil, nil),
		Metrics:     metrics,
	}, &impl.AdmissionConfig{RateLimitFailurePolicy: admission.FailClosed, QuotaFailurePolicy: admission.FailClosed}, logger)

	d := svc.Decide(context.Background(), quota.Identity{ID: uuid.New()}, "src", may15)
	assert.False(t, d.Allowed)
	assert.Equal(t, admission.ReasonServiceUnavailable, d.Reason)
	assert.Equal(t, []string{"rate_limiter"}, metrics.Failures())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestAdmission_FailOpenAllowsDegraded(t *testing.T) {
	store := tmocks.UnavailableStore()
	metrics := &fakeMetrics{}
	logger, hook := logtest.NewNullLogger()
	svc := impl.NewAdmissionService(impl.AdmissionDeps{
		RateLimiter: impl.NewRateLimiterService(store, nil, nil),
		Quota:       impl.NewQuotaService(store, oracleReturning(0), nil, nil, nil),
		Metrics:     metrics,
	}, &impl.AdmissionConfig{RateLimitFailurePolicy: admission.FailOpen, QuotaFailurePolicy: admission.FailOpen}, logger)

	d := svc.Decide(context.Background(), quota.Identity{ID: uuid.New()}, "src", may15)
	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded)
	assert.Nil(t, d.Rate)
	assert.Nil(t, d.Quota)
	assert.Equal(t, []string{"rate_limiter", "quota"}, metrics.Failures())

	var warned int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "fail-open") {
			warned++
		}
	}
	assert.Equal(t, 2, warned)
	assert.Equal(t, 1, metrics.recordErr)
}

func TestAdmission_MixedFailurePolicies(t *testing.T) {
	rl := &tmocks.RateLimiterServiceMock{}
	q := &tmocks.QuotaServiceMock{CheckFn: func(context.Context, quota.Identity, time.Time) (quota.Status, error) {
		return quota.Status{}, admission.ErrOracleUnavailable
	}}
	metrics := &fakeMetrics{}
	svc := impl.NewAdmissionService(impl.AdmissionDeps{RateLimiter: rl, Quota: q, Metrics: metrics},
		&impl.AdmissionConfig{RateLimitFailurePolicy: admission.FailOpen, QuotaFailurePolicy: admission.FailClosed}, nil)

	d := svc.Decide(context.Background(), quota.Identity{ID: uuid.New()}, "src", may15)
	assert.Equal(t, admission.ReasonServiceUnavailable, d.Reason)
	require.NotNil(t, d.Rate)
	assert.Equal(t, []string{"quota"}, metrics.Failures())
}

func TestAdmission_SourceFilter(t *testing.T) {
	var rlCalls int32
	rl := &tmocks.RateLimiterServiceMock{CheckFn: func(context.Context, string, time.Time) (ratelimit.Status, error) {
		atomic.AddInt32(&rlCalls, 1)
		return ratelimit.Status{Throttled: true, Count: 99, Limit: 50, RetryAfter: time.Second}, nil
	}}
	filter, err := impl.NewSourceFilter([]string{"127.0.0.1"}, []string{"192.0.2.0/24"})
	require.NoError(t, err)
	svc := impl.NewAdmissionService(impl.AdmissionDeps{RateLimiter: rl, Quota: &tmocks.QuotaServiceMock{}, Filter: filter}, nil, nil)

	d := svc.Decide(context.Background(), quota.Identity{ID: uuid.New()}, "192.0.2.44", may15)
	assert.Equal(t, admission.ReasonBlocked, d.Reason)
	assert.Zero(t, atomic.LoadInt32(&rlCalls))

	d = svc.Decide(context.Background(), quota.Identity{ID: uuid.New()}, "127.0.0.1", may15)
	assert.True(t, d.Allowed)
	assert.Nil(t, d.Rate)
	assert.Zero(t, atomic.LoadInt32(&rlCalls))

	d = svc.Decide(context.Background(), quota.Identity{ID: uuid.New()}, "203.0.113.5", may15)
	assert.Equal(t, admission.ReasonRateLimited, d.Reason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rlCalls))
}

func TestAdmission_CloseDrainsQueuedRecords(t *testing.T) {
	var recorded int32
	q := &tmocks.QuotaServiceMock{RecordFn: func(context.Context, quota.Identity, time.Time) (int64, error) {
		time.Sleep(2 * time.Millisecond)
		return int64(atomic.AddInt32(&recorded, 1)), nil
	}}
	metrics := &fakeMetrics{}
	svc := impl.NewAdmissionService(impl.AdmissionDeps{RateLimiter: &tmocks.RateLimiterServiceMock{}, Quota: q, Metrics: metrics},
		&impl.AdmissionConfig{RecordWorkers: 2, RecordQueueSize: 64}, nil)

	for i := 0; i < 20; i++ {
		d := svc.Decide(context.Background(), quota.Identity{ID: uuid.New()}, "src", may15)
		require.True(t, d.Allowed)
	}
	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, int32(20), atomic.LoadInt32(&recorded))
	assert.Equal(t, 20, metrics.records)
	assert.Len(t, metrics.decisions, 20)
}

func TestAdmission_AfterRecordRunsBehindQueuedRecord(t *testing.T) {
	var mu sync.Mutex
	var order []string
	appendStep := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}
	q := &tmocks.QuotaServiceMock{RecordFn: func(context.Context, quota.Identity, time.Time) (int64, error) {
		time.Sleep(5 * time.Millisecond)
		appendStep("record")
		return 1, nil
	}}
	svc := impl.NewAdmissionService(impl.AdmissionDeps{RateLimiter: &tmocks.RateLimiterServiceMock{}, Quota: q},
		&impl.AdmissionConfig{RecordWorkers: 4}, nil)
	id := quota.Identity{ID: uuid.New()}

	d := svc.Decide(context.Background(), id, "src", may15)
	require.True(t, d.Allowed)
	svc.AfterRecord(context.Background(), id.ID, func(context.Context) { appendStep("hit") })

	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, []string{"record", "hit"}, order)
}

func TestAdmission_AfterRecordInlineWhenSynchronous(t *testing.T) {
	svc := impl.NewAdmissionService(impl.AdmissionDeps{RateLimiter: &tmocks.RateLimiterServiceMock{}, Quota: &tmocks.QuotaServiceMock{}}, nil, nil)
	ran := false
	svc.AfterRecord(context.Background(), uuid.New(), func(context.Context) { ran = true })
	assert.True(t, ran)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/ports"
)

const recordAttempts = 2

// QuotaConfig groups configuration parameters for the quota counter.
type QuotaConfig struct {
	Limit           int64
	FreshnessWindow time.Duration
	KeyPrefix       string
	StoreTimeout    time.Duration
	OracleTimeout   time.Duration
}

// QuotaService implements ports.QuotaService with a cache-aside counter per identity and
// calendar month, populated from the durable hit log on miss.
type QuotaService struct {
	store         ports.CounterStore
	oracle        ports.HitOracle
	policy        quota.Policy
	storeTimeout  time.Duration
	oracleTimeout time.Duration
	group         singleflight.Group
	metrics       ports.AdmissionMetrics
	logger        *logrus.Logger
}

func NewQuotaService(store ports.CounterStore, oracle ports.HitOracle, cfg *QuotaConfig, metrics ports.AdmissionMetrics, logger *logrus.Logger) *QuotaService {
	// Apply defaults
	policy := quota.Policy{
		Limit:           10000,
		Kind:            quota.PeriodCalendarMonth,
		FreshnessWindow: 5 * time.Minute,
		KeyPrefix:       "quota:hits",
	}
	st := 250 * time.Millisecond
	ot := 2 * time.Second
	if cfg != nil {
		if cfg.Limit > 0 {
			policy.Limit = cfg.Limit
		}
		if cfg.FreshnessWindow > 0 {
			policy.FreshnessWindow = cfg.FreshnessWindow
		}
		if cfg.KeyPrefix != "" {
			policy.KeyPrefix = cfg.KeyPrefix
		}
		if cfg.StoreTimeout > 0 {
			st = cfg.StoreTimeout
		}
		if cfg.OracleTimeout > 0 {
			ot = cfg.OracleTimeout
		}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &QuotaService{store: store, oracle: oracle, policy: policy, storeTimeout: st, oracleTimeout: ot, metrics: metrics, logger: logger}
}

// Policy returns the effective quota policy.
func (s *QuotaService) Policy() quota.Policy { return s.policy }

func (s *QuotaService) Check(ctx context.Context, identity quota.Identity, now time.Time) (quota.Status, error) {
	period := quota.BoundaryFor(now, identity.TimezoneOffset)
	key := quota.CounterKey(s.policy.KeyPrefix, identity.ID, period)
	status := quota.Status{Limit: s.policy.Limit, Period: period}

	rec, err := s.current(ctx, identity, period, key)
	if err != nil {
		return status, err
	}
	status.Count = rec.Count
	status.Allowed = rec.Count < s.policy.Limit
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "count": rec.Count, "limit": s.policy.Limit, "period_start": period.Start}).Debug("quota: checked")
	}
	return status, nil
}

// Record increments the counter. A lapsed counter is repopulated from the oracle first
// so the new hit is added on top of the period's real total, never on top of zero.
// Records are only ever created by population, so every live record carries its period start.
func (s *QuotaService) Record(ctx context.Context, identity quota.Identity, now time.Time) (int64, error) {
	period := quota.BoundaryFor(now, identity.TimezoneOffset)
	key := quota.CounterKey(s.policy.KeyPrefix, identity.ID, period)

	n, ok, err := s.incrementExisting(ctx, key)
	if err != nil || ok {
		return n, err
	}
	for attempt := 0; attempt < recordAttempts; attempt++ {
		if _, err := s.populate(ctx, identity, period, key); err != nil {
			return 0, err
		}
		n, ok, err = s.incrementExisting(ctx, key)
		if err != nil || ok {
			return n, err
		}
	}
	// Evicted right after every population: the store is thrashing.
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "key": key}).Error("quota: counter evicted right after population")
	}
	return 0, fmt.Errorf("%w: counter %s evicted during record", admission.ErrStoreUnavailable, key)
}

func (s *QuotaService) current(ctx context.Context, identity quota.Identity, period quota.Period, key string) (quota.CounterRecord, error) {
	rec, ok, err := s.get(ctx, key)
	if err != nil {
		return rec, err
	}
	if ok && rec.PeriodStart.Equal(period.Start) {
		return rec, nil
	}
	return s.populate(ctx, identity, period, key)
}

// populate coalesces concurrent misses on key into one oracle query. The shared call runs
// on a context detached from the caller, so a caller that gives up neither cancels it for
// the other waiters nor leaves the key in flight.
func (s *QuotaService) populate(ctx context.Context, identity quota.Identity, period quota.Period, key string) (quota.CounterRecord, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.load(context.WithoutCancel(ctx), identity, period, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return quota.CounterRecord{}, res.Err
		}
		rec, ok := res.Val.(quota.CounterRecord)
		if !ok {
			return quota.CounterRecord{}, fmt.Errorf("unexpected type from singleflight result")
		}
		return rec, nil
	case <-ctx.Done():
		return quota.CounterRecord{}, ctx.Err()
	}
}

func (s *QuotaService) load(ctx context.Context, identity quota.Identity, period quota.Period, key string) (quota.CounterRecord, error) {
	// Another flight may have finished between our miss and acquiring the key.
	existing, ok, err := s.get(ctx, key)
	if err != nil {
		return quota.CounterRecord{}, err
	}
	stale := ok && !existing.PeriodStart.Equal(period.Start)
	if ok && !stale {
		return existing, nil
	}

	octx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
	started := time.Now()
	count, err := s.oracle.CountHits(octx, identity.ID, period.Start, period.End)
	cancel()
	s.metrics.OracleQuery(time.Since(started), err)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "period_start": period.Start}).WithError(err).Error("quota: oracle count failed")
		}
		if !errors.Is(err, admission.ErrOracleUnavailable) {
			err = fmt.Errorf("%w: %w", admission.ErrOracleUnavailable, err)
		}
		return quota.CounterRecord{}, err
	}

	fresh := quota.CounterRecord{Key: key, PeriodStart: period.Start, Count: count}
	sctx, scancel := context.WithTimeout(ctx, s.storeTimeout)
	defer scancel()
	if stale {
		if err := s.store.Put(sctx, key, fresh, s.policy.FreshnessWindow); err != nil {
			return quota.CounterRecord{}, err
		}
	} else {
		fresh, err = s.store.PutIfAbsent(sctx, key, fresh, s.policy.FreshnessWindow)
		if err != nil {
			return quota.CounterRecord{}, err
		}
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "key": key, "count": fresh.Count, "stale": stale}).Debug("quota: counter populated from oracle")
	}
	return fresh, nil
}

func (s *QuotaService) get(ctx context.Context, key string) (quota.CounterRecord, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Get(sctx, key)
}

func (s *QuotaService) incrementExisting(ctx context.Context, key string) (int64, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.IncrementExisting(sctx, key, 1)
}

package services

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/ratelimit"
	"github.com/avatarctic/quota-admission/internal/core/ports"
)

// RateLimiterService implements ports.RateLimiterService using a single static policy.
type RateLimiterService struct {
	store        ports.CounterStore
	policy       ratelimit.Policy
	storeTimeout time.Duration
	logger       *logrus.Logger
}

// RateLimiterConfig groups configuration parameters for the rate limiter.
type RateLimiterConfig struct {
	Limit        int64
	Window       time.Duration
	Algorithm    ratelimit.Algorithm
	KeyPrefix    string
	StoreTimeout time.Duration
}

func NewRateLimiterService(store ports.CounterStore, cfg *RateLimiterConfig, logger *logrus.Logger) *RateLimiterService {
	// Apply defaults
	policy := ratelimit.Policy{
		Limit:     50,
		Window:    10 * time.Second,
		Algorithm: ratelimit.AlgorithmFixedWindow,
		KeyPrefix: "ratelimit:source",
	}
	st := 250 * time.Millisecond
	if cfg != nil {
		if cfg.Limit > 0 {
			policy.Limit = cfg.Limit
		}
		if cfg.Window > 0 {
			policy.Window = cfg.Window
		}
		if cfg.Algorithm != "" {
			policy.Algorithm = cfg.Algorithm
		}
		if cfg.KeyPrefix != "" {
			policy.KeyPrefix = cfg.KeyPrefix
		}
		if cfg.StoreTimeout > 0 {
			st = cfg.StoreTimeout
		}
	}
	return &RateLimiterService{store: store, policy: policy, storeTimeout: st, logger: logger}
}

// Policy returns the effective rate limit policy.
func (s *RateLimiterService) Policy() ratelimit.Policy { return s.policy }

// Check counts the request and reports whether sourceKey is throttled. The request that
// brings the count to exactly Limit is allowed; Limit+1 is the first throttled one.
func (s *RateLimiterService) Check(ctx context.Context, sourceKey string, now time.Time) (ratelimit.Status, error) {
	if s.policy.Algorithm == ratelimit.AlgorithmSlidingWindow {
		return s.checkSliding(ctx, sourceKey, now)
	}
	return s.checkFixed(ctx, sourceKey, now)
}

func (s *RateLimiterService) checkFixed(ctx context.Context, sourceKey string, now time.Time) (ratelimit.Status, error) {
	w := s.policy.Window
	windowStart := ratelimit.WindowStart(now, w)
	reset := windowStart.Add(w)
	status := ratelimit.Status{Limit: s.policy.Limit, WindowStart: windowStart, Reset: reset}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	count, err := s.store.Increment(sctx, ratelimit.WindowKey(s.policy.KeyPrefix, sourceKey, windowStart), 1, w)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"source": sourceKey}).WithError(err).Error("rate limiter: failed to increment window")
		}
		return status, err
	}
	status.Count = count
	if count > s.policy.Limit {
		status.Throttled = true
		status.RetryAfter = reset.Sub(now)
	}
	s.logState(sourceKey, status)
	return status, nil
}

// checkSliding estimates the rolling count as prev*(1-elapsed/W) + current.
func (s *RateLimiterService) checkSliding(ctx context.Context, sourceKey string, now time.Time) (ratelimit.Status, error) {
	w := s.policy.Window
	windowStart := ratelimit.WindowStart(now, w)
	reset := windowStart.Add(w)
	status := ratelimit.Status{Limit: s.policy.Limit, WindowStart: windowStart, Reset: reset}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	// the current window must outlive itself by one window to serve as the next one's previous
	current, err := s.store.Increment(sctx, ratelimit.WindowKey(s.policy.KeyPrefix, sourceKey, windowStart), 1, 2*w)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"source": sourceKey}).WithError(err).Error("rate limiter: failed to increment window")
		}
		return status, err
	}
	prevRec, ok, err := s.store.Get(sctx, ratelimit.WindowKey(s.policy.KeyPrefix, sourceKey, windowStart.Add(-w)))
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"source": sourceKey}).WithError(err).Error("rate limiter: failed to read previous window")
		}
		return status, err
	}
	var prev int64
	if ok {
		prev = prevRec.Count
	}

	weight := 1 - float64(now.Sub(windowStart))/float64(w)
	estimate := float64(prev)*weight + float64(current)
	status.Count = int64(math.Ceil(estimate))
	if estimate > float64(s.policy.Limit) {
		status.Throttled = true
		status.RetryAfter = s.slidingRetryAfter(prev, current, windowStart, now)
	}
	s.logState(sourceKey, status)
	return status, nil
}

// slidingRetryAfter is the time until the weighted previous window has decayed enough
// for one more request, bounded by the end of the current window.
func (s *RateLimiterService) slidingRetryAfter(prev, current int64, windowStart, now time.Time) time.Duration {
	untilReset := windowStart.Add(s.policy.Window).Sub(now)
	headroom := s.policy.Limit - current
	if headroom <= 0 || prev <= 0 {
		return untilReset
	}
	fraction := 1 - float64(headroom)/float64(prev)
	at := windowStart.Add(time.Duration(fraction * float64(s.policy.Window)))
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	if d > untilReset {
		return untilReset
	}
	return d
}

func (s *RateLimiterService) logState(sourceKey string, st ratelimit.Status) {
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"source": sourceKey, "count": st.Count, "limit": st.Limit, "throttled": st.Throttled}).Debug("rate limiter window state")
	}
}

package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/ports"
)

const (
	componentRateLimiter = "rate_limiter"
	componentQuota       = "quota"

	notifyTimeout = 10 * time.Second
)

// AdmissionConfig groups configuration parameters for the admission controller.
type AdmissionConfig struct {
	RateLimitFailurePolicy admission.FailurePolicy
	QuotaFailurePolicy     admission.FailurePolicy
	// RecordWorkers <= 0 records hits synchronously before Decide returns.
	RecordWorkers   int
	RecordQueueSize int
}

// AdmissionDeps holds the collaborators of AdmissionService. Filter, Notifier and Metrics
// are optional.
type AdmissionDeps struct {
	RateLimiter ports.RateLimiterService
	Quota       ports.QuotaService
	Filter      ports.SourceFilter
	Notifier    ports.QuotaNotifier
	Metrics     ports.AdmissionMetrics
}

// AdmissionService implements ports.AdmissionService: source filter, then rate limit,
// then quota. An admitted request records its hit after the decision is made.
type AdmissionService struct {
	rateLimiter ports.RateLimiterService
	quota       ports.QuotaService
	filter      ports.SourceFilter
	notifier    ports.QuotaNotifier
	metrics     ports.AdmissionMetrics
	ratePolicy  admission.FailurePolicy
	quotaPolicy admission.FailurePolicy
	recorder    *recorder
	notifyWG    sync.WaitGroup
	logger      *logrus.Logger
}

func NewAdmissionService(deps AdmissionDeps, cfg *AdmissionConfig, logger *logrus.Logger) *AdmissionService {
	s := &AdmissionService{
		rateLimiter: deps.RateLimiter,
		quota:       deps.Quota,
		filter:      deps.Filter,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		ratePolicy:  admission.FailOpen,
		quotaPolicy: admission.FailOpen,
		logger:      logger,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if cfg != nil {
		if cfg.RateLimitFailurePolicy != "" {
			s.ratePolicy = cfg.RateLimitFailurePolicy
		}
		if cfg.QuotaFailurePolicy != "" {
			s.quotaPolicy = cfg.QuotaFailurePolicy
		}
		if cfg.RecordWorkers > 0 {
			s.recorder = newRecorder(cfg.RecordWorkers, cfg.RecordQueueSize, logger)
		}
	}
	return s
}

func (s *AdmissionService) Decide(ctx context.Context, identity quota.Identity, sourceKey string, now time.Time) admission.Decision {
	d := s.decide(ctx, identity, sourceKey, now)
	s.metrics.ObserveDecision(d)
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "source": sourceKey, "allowed": d.Allowed, "reason": d.Reason, "degraded": d.Degraded}).Debug("admission: decided")
	}
	return d
}

func (s *AdmissionService) decide(ctx context.Context, identity quota.Identity, sourceKey string, now time.Time) admission.Decision {
	class := admission.SourceUnlisted
	if s.filter != nil {
		class = s.filter.Classify(sourceKey)
	}
	if class == admission.SourceBlocked {
		return admission.Deny(admission.ReasonBlocked, 0)
	}

	degraded := false
	var rate *admission.Usage
	if class != admission.SourceSafelisted {
		rl, err := s.rateLimiter.Check(ctx, sourceKey, now)
		if err != nil {
			if d, stop := s.degrade(componentRateLimiter, s.ratePolicy, err, identity, sourceKey); stop {
				return d
			}
			degraded = true
		} else {
			rate = &admission.Usage{Limit: rl.Limit, Used: rl.Count, Reset: rl.Reset}
			if rl.Throttled {
				d := admission.Deny(admission.ReasonRateLimited, rl.RetryAfter)
				d.Rate = rate
				return d
			}
		}
	}

	// Make this identity's queued increments visible before reading its count.
	if s.recorder != nil {
		if err := s.recorder.Wait(ctx, identity.ID); err != nil && s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity_id": identity.ID}).WithError(err).Debug("admission: gave up waiting for pending records")
		}
	}

	st, err := s.quota.Check(ctx, identity, now)
	if err != nil {
		if d, stop := s.degrade(componentQuota, s.quotaPolicy, err, identity, sourceKey); stop {
			d.Rate = rate
			return d
		}
		degraded = true
	} else if !st.Allowed {
		d := admission.Deny(admission.ReasonOverQuota, st.Period.Remaining(now))
		d.Rate = rate
		d.Quota = &admission.Usage{Limit: st.Limit, Used: st.Count, Reset: st.Period.End}
		s.notify(ctx, identity, st)
		return d
	}

	d := admission.Allow()
	d.Degraded = degraded
	d.Rate = rate
	if err == nil {
		// Used includes the hit being admitted.
		d.Quota = &admission.Usage{Limit: st.Limit, Used: st.Count + 1, Reset: st.Period.End}
	}
	s.record(ctx, identity, now)
	return d
}

// degrade applies the failure policy of a component. stop=true means the returned decision is final.
func (s *AdmissionService) degrade(component string, policy admission.FailurePolicy, err error, identity quota.Identity, sourceKey string) (admission.Decision, bool) {
	s.metrics.DependencyFailure(component)
	fields := logrus.Fields{"component": component, "identity_id": identity.ID, "source": sourceKey, "failure_policy": policy}
	if policy == admission.FailClosed {
		if s.logger != nil {
			s.logger.WithFields(fields).WithError(err).Error("admission: dependency unavailable; denying request (fail-closed)")
		}
		return admission.Deny(admission.ReasonServiceUnavailable, 0), true
	}
	if s.logger != nil {
		s.logger.WithFields(fields).WithError(err).Warn("admission: dependency unavailable; allowing request (fail-open)")
	}
	return admission.Decision{}, false
}

func (s *AdmissionService) record(ctx context.Context, identity quota.Identity, now time.Time) {
	run := func(ctx context.Context) {
		_, err := s.quota.Record(ctx, identity, now)
		s.metrics.RecordResult(err)
		if err != nil && s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity_id": identity.ID}).WithError(err).Error("admission: failed to record hit")
		}
	}
	if s.recorder == nil {
		run(context.WithoutCancel(ctx))
		return
	}
	s.recorder.Submit(ctx, identity.ID, run)
}

func (s *AdmissionService) notify(ctx context.Context, identity quota.Identity, st quota.Status) {
	if s.notifier == nil {
		return
	}
	s.notifyWG.Add(1)
	go func(ctx context.Context) {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		// errors are logged by the notifier
		_ = s.notifier.NotifyOverQuota(ctx, identity, st)
	}(context.WithoutCancel(ctx))
}

// AfterRecord implements ports.RecordSequencer. fn runs on the identity's shard after its
// queued records, or inline when records are synchronous.
func (s *AdmissionService) AfterRecord(ctx context.Context, identity uuid.UUID, fn func(ctx context.Context)) {
	if s.recorder == nil {
		fn(context.WithoutCancel(ctx))
		return
	}
	s.recorder.Then(ctx, identity, fn)
}

// Close drains queued hit records and in-flight notifications.
func (s *AdmissionService) Close(ctx context.Context) error {
	if s.recorder != nil {
		if err := s.recorder.Close(ctx); err != nil {
			return err
		}
	}
	done := make(chan struct{})
	go func() {
		s.notifyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

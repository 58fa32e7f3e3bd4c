package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/hit"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/domain/ratelimit"
	"github.com/avatarctic/quota-admission/internal/core/ports"
	"github.com/avatarctic/quota-admission/internal/infrastructure/httpserver/helpers"
)

// ErrorResponse is the body of a denied request.
type ErrorResponse struct {
	Error             string           `json:"error"`
	Reason            admission.Reason `json:"reason"`
	RetryAfterSeconds int64            `json:"retry_after_seconds"`
}

// AdmissionMiddleware gates authenticated requests through the admission controller.
type AdmissionMiddleware struct {
	admission ports.AdmissionService
	hits      ports.HitRepository
	logger    *logrus.Logger
	now       func() time.Time
}

// NewAdmissionMiddleware creates the middleware. hits may be nil, in which case admitted
// requests are not written to the durable log.
func NewAdmissionMiddleware(admissionSvc ports.AdmissionService, hits ports.HitRepository, logger *logrus.Logger) *AdmissionMiddleware {
	return &AdmissionMiddleware{admission: admissionSvc, hits: hits, logger: logger, now: time.Now}
}

// WithClock replaces the time source.
func (m *AdmissionMiddleware) WithClock(now func() time.Time) *AdmissionMiddleware {
	m.now = now
	return m
}

// Handler must run after RequireJWT.
func (m *AdmissionMiddleware) Handler() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := helpers.GetIdentityFromContext(c)
			if err != nil {
				return err
			}
			source := helpers.SourceKey(c)
			now := m.now()

			d := m.admission.Decide(c.Request().Context(), identity, source, now)
			SetDecisionHeaders(c.Response().Header(), d)
			helpers.SetDecision(c, d)

			if !d.Allowed {
				if m.logger != nil {
					m.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "source": source, "reason": d.Reason, "path": c.Request().URL.Path}).Info("request denied by admission control")
				}
				return c.JSON(StatusFor(d.Reason), ErrorResponse{
					Error:             d.Reason.Message(),
					Reason:            d.Reason,
					RetryAfterSeconds: d.RetryAfterSeconds(),
				})
			}

			m.logHit(c, identity, source, now)
			return next(c)
		}
	}
}

// logHit appends the admitted request to the hit log. When the admission service records
// in the background, the insert is sequenced after this identity's pending count update so a
// repopulation never sees the row before the counter does.
func (m *AdmissionMiddleware) logHit(c echo.Context, identity quota.Identity, source string, now time.Time) {
	if m.hits == nil {
		return
	}
	h := &hit.Hit{
		UserID:    identity.ID,
		SourceKey: ratelimit.SourceKey(source),
		Method:    c.Request().Method,
		Path:      c.Path(),
		CreatedAt: now.UTC(),
	}
	insert := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := m.hits.Create(ctx, h); err != nil && m.logger != nil {
			m.logger.WithFields(logrus.Fields{"identity_id": identity.ID}).WithError(err).Error("failed to log hit")
		}
	}
	if seq, ok := m.admission.(ports.RecordSequencer); ok {
		seq.AfterRecord(c.Request().Context(), identity.ID, insert)
		return
	}
	insert(context.WithoutCancel(c.Request().Context()))
}

// SetDecisionHeaders writes the X-RateLimit-*, X-Quota-* and Retry-After headers.
func SetDecisionHeaders(h http.Header, d admission.Decision) {
	if d.Rate != nil {
		h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Rate.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Rate.Remaining(), 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Rate.Reset.Unix(), 10))
	}
	if d.Quota != nil {
		h.Set("X-Quota-Limit", strconv.FormatInt(d.Quota.Limit, 10))
		h.Set("X-Quota-Remaining", strconv.FormatInt(d.Quota.Remaining(), 10))
		h.Set("X-Quota-Reset", strconv.FormatInt(d.Quota.Reset.Unix(), 10))
	}
	if !d.Allowed {
		if secs := d.RetryAfterSeconds(); secs > 0 {
			h.Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}
}

// StatusFor maps a denial reason to its HTTP status.
func StatusFor(reason admission.Reason) int {
	switch reason {
	case admission.ReasonRateLimited, admission.ReasonOverQuota:
		return http.StatusTooManyRequests
	case admission.ReasonBlocked:
		return http.StatusForbidden
	case admission.ReasonServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

package httpserver

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/profile"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	customMiddleware "github.com/avatarctic/quota-admission/internal/infrastructure/httpserver/middleware"
)

// DecideRequest asks for a decision on behalf of another service. Timezone fields override
// the stored profile; when both are absent the profile (or UTC) is used.
type DecideRequest struct {
	IdentityID     string     `json:"identity_id"`
	TimezoneOffset *int       `json:"timezone_offset,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
	SourceKey      string     `json:"source_key"`
	Now            *time.Time `json:"now,omitempty"`
}

type DecideResponse struct {
	admission.Decision
	RetryAfterSeconds int64 `json:"retry_after_seconds"`
}

func (s *Server) decide(c echo.Context) error {
	var req DecideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SourceKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source_key is required")
	}
	id, err := uuid.Parse(req.IdentityID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "identity_id must be a UUID")
	}

	now := s.now()
	if req.Now != nil {
		now = *req.Now
	}

	identity := s.identityFor(c, id, req, now)

	d := s.admissionService.Decide(c.Request().Context(), identity, req.SourceKey, now)
	customMiddleware.SetDecisionHeaders(c.Response().Header(), d)
	return c.JSON(http.StatusOK, DecideResponse{Decision: d, RetryAfterSeconds: d.RetryAfterSeconds()})
}

// identityFor never fails: an unusable timezone degrades to the UTC month.
func (s *Server) identityFor(c echo.Context, id uuid.UUID, req DecideRequest, now time.Time) quota.Identity {
	var (
		identity quota.Identity
		err      error
	)
	switch {
	case req.TimezoneOffset != nil:
		identity, err = quota.NewIdentity(id, *req.TimezoneOffset)
	case req.Timezone != "":
		p := profile.Profile{ID: id, Timezone: req.Timezone}
		var offset int
		if offset, err = p.OffsetAt(now); err == nil {
			identity, err = quota.NewIdentity(id, offset)
		}
	case s.identityResolver != nil:
		return s.identityResolver.Resolve(c.Request().Context(), id, now)
	default:
		return quota.Identity{ID: id}
	}
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"identity_id": id, "timezone": req.Timezone, "timezone_offset": req.TimezoneOffset}).WithError(err).Warn("decide: invalid timezone; using UTC")
		}
		return quota.Identity{ID: id}
	}
	return identity
}

package httpserver

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/avatarctic/quota-admission/internal/infrastructure/httpserver/helpers"
)

type UsageResponse struct {
	IdentityID     uuid.UUID `json:"identity_id"`
	Used           int64     `json:"used"`
	Limit          int64     `json:"limit"`
	Remaining      int64     `json:"remaining"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	TimezoneOffset int       `json:"timezone_offset"`
}

// getUsage reports the caller's current-period count. It never increments.
func (s *Server) getUsage(c echo.Context) error {
	identity, err := helpers.GetIdentityFromContext(c)
	if err != nil {
		return err
	}
	st, err := s.quotaService.Check(c.Request().Context(), identity, s.now())
	if err != nil {
		if s.logger != nil {
			s.logger.WithField("identity_id", identity.ID).WithError(err).Error("usage: quota check failed")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "usage temporarily unavailable")
	}
	return c.JSON(http.StatusOK, UsageResponse{
		IdentityID:     identity.ID,
		Used:           st.Count,
		Limit:          st.Limit,
		Remaining:      st.Remaining(),
		PeriodStart:    st.Period.Start,
		PeriodEnd:      st.Period.End,
		TimezoneOffset: st.Period.TimezoneOffset,
	})
}

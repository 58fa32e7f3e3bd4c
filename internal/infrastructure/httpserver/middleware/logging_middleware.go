package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/infrastructure/httpserver/helpers"
)

type LoggingMiddleware struct {
	logger *logrus.Logger
}

func NewLoggingMiddleware(logger *logrus.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) RequestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.logger == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			fields := logrus.Fields{
				"method":     c.Request().Method,
				"path":       c.Path(),
				"status":     c.Response().Status,
				"latency_ms": time.Since(start).Milliseconds(),
				"source":     helpers.SourceKey(c),
			}
			if id, ok := helpers.GetIdentityRaw(c); ok {
				fields["identity_id"] = id.ID
			}
			if d, ok := helpers.GetDecisionRaw(c); ok {
				fields["reason"] = d.Reason
				fields["degraded"] = d.Degraded
			}
			m.logger.WithFields(fields).Debug("request handled")
			return err
		}
	}
}

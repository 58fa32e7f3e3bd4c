package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	healthHealthy   = "healthy"
	healthDegraded  = "degraded"
	healthUnhealthy = "unhealthy"
)

// HealthResponse reports each dependency by name. A failing critical dependency (counter
// store, hit log) answers 503; a failing optional one (profile cache) still answers 200.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    string            `json:"timestamp"`
	Service      string            `json:"service"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:       healthHealthy,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Service:      "quota-admission",
		Dependencies: make(map[string]string, len(s.healthCheckers)),
	}
	for _, hc := range s.healthCheckers {
		if hc == nil {
			continue
		}
		err := hc.Check(ctx)
		if err == nil {
			resp.Dependencies[hc.Name()] = healthHealthy
			continue
		}
		if s.logger != nil {
			s.logger.WithField("dependency", hc.Name()).WithError(err).Warn("health: dependency check failed")
		}
		if hc.Critical() {
			resp.Dependencies[hc.Name()] = healthUnhealthy
			resp.Status = healthUnhealthy
		} else {
			resp.Dependencies[hc.Name()] = healthDegraded
			if resp.Status == healthHealthy {
				resp.Status = healthDegraded
			}
		}
	}

	code := http.StatusOK
	if resp.Status == healthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/ports"
)

// MiddlewareCollection holds all middleware instances
type MiddlewareCollection struct {
	JWT       *JWTMiddleware
	Admission *AdmissionMiddleware
	Logging   *LoggingMiddleware
	Metrics   *MetricsMiddleware
}

// NewMiddlewareCollection creates a new collection of all middleware
func NewMiddlewareCollection(
	admissionService ports.AdmissionService,
	identityResolver ports.IdentityResolver,
	hitRepo ports.HitRepository,
	logger *logrus.Logger,
	jwtSecret string,
	jwtIssuer string,
	reg prometheus.Registerer,
) (*MiddlewareCollection, error) {
	metrics, err := NewMetricsMiddleware(reg)
	if err != nil {
		return nil, err
	}
	return &MiddlewareCollection{
		JWT:       NewJWTMiddleware(jwtSecret, jwtIssuer, identityResolver, logger),
		Admission: NewAdmissionMiddleware(admissionService, hitRepo, logger),
		Logging:   NewLoggingMiddleware(logger),
		Metrics:   metrics,
	}, nil
}

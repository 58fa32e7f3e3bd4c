package httpserver

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/ports"
	customMiddleware "github.com/avatarctic/quota-admission/internal/infrastructure/httpserver/middleware"
)

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TLSCertFile    string
	TLSKeyFile     string
	AllowedOrigins []string
	Environment    string
	JWTSecret      string
	JWTIssuer      string
}

type ServerDeps struct {
	AdmissionService ports.AdmissionService
	IdentityResolver ports.IdentityResolver
	QuotaService     ports.QuotaService
	HitRepository    ports.HitRepository
	HealthCheckers   []ports.HealthChecker
	// Registry receives the HTTP metrics and is served on /metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry
}

type Server struct {
	echo             *echo.Echo
	config           *ServerConfig
	logger           *logrus.Logger
	admissionService ports.AdmissionService
	identityResolver ports.IdentityResolver
	quotaService     ports.QuotaService
	registry         *prometheus.Registry
	middleware       *customMiddleware.MiddlewareCollection
	healthCheckers   []ports.HealthChecker
	now              func() time.Time
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) (*Server, error) {
	e := echo.New()
	e.HideBanner = true

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	mw, err := customMiddleware.NewMiddlewareCollection(
		deps.AdmissionService,
		deps.IdentityResolver,
		deps.HitRepository,
		logger,
		serverConfig.JWTSecret,
		serverConfig.JWTIssuer,
		reg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build middleware: %w", err)
	}

	server := &Server{
		echo:             e,
		config:           serverConfig,
		logger:           logger,
		admissionService: deps.AdmissionService,
		identityResolver: deps.IdentityResolver,
		quotaService:     deps.QuotaService,
		registry:         reg,
		middleware:       mw,
		healthCheckers:   deps.HealthCheckers,
		now:              time.Now,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	config "github.com/avatarctic/quota-admission/configs"
	"github.com/avatarctic/quota-admission/internal/application/services"
	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/ratelimit"
	"github.com/avatarctic/quota-admission/internal/core/ports"
	"github.com/avatarctic/quota-admission/internal/infrastructure/db"
	"github.com/avatarctic/quota-admission/internal/infrastructure/email"
	"github.com/avatarctic/quota-admission/internal/infrastructure/health"
	"github.com/avatarctic/quota-admission/internal/infrastructure/httpserver"
	"github.com/avatarctic/quota-admission/internal/infrastructure/memory"
	"github.com/avatarctic/quota-admission/internal/infrastructure/metrics"
	"github.com/avatarctic/quota-admission/internal/infrastructure/redis"
	"github.com/avatarctic/quota-admission/internal/infrastructure/repositories"

	_ "time/tzdata"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Setup logger
	logger := logrus.New()
	if cfg.Log.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}

	logger.Info("Starting quota admission service...")

	database, err := db.Open(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	logger.Info("Connected to database successfully")

	if err := database.Migrate(cfg.Database.MigrationsPath, logger); err != nil {
		logger.Warn("Failed to run migrations:", err)
	}

	hcSlice := []ports.HealthChecker{health.NewDBHealthChecker(database)}

	// Counter store: shared Redis, or a bounded in-process LRU for single-instance deployments
	var store ports.CounterStore
	var profileCache ports.Cache
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		memStore, err := memory.NewCounterStore(cfg.Cache.MemoryCapacity)
		if err != nil {
			logger.Fatal("Failed to create memory counter store:", err)
		}
		store = memStore
		logger.WithField("capacity", cfg.Cache.MemoryCapacity).Info("Using in-memory counter store")
	default:
		redisClient, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis:", err)
		}
		defer redisClient.Close()
		logger.Info("Connected to Redis successfully")

		store = redis.NewCounterStore(redisClient)
		profileCache = redis.NewCache(redisClient, cfg.Cache.ProfileKeyPrefix)
		hcSlice = append(hcSlice, health.NewProfileCacheHealthChecker(profileCache))
	}
	hcSlice = append(hcSlice, health.NewCounterStoreHealthChecker(store))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		logger.Fatal("Failed to register admission metrics:", err)
	}

	hitRepo := repositories.NewHitRepository(database, logger)
	profileRepo := repositories.NewCachingProfileRepository(
		repositories.NewProfileRepository(database, logger), profileCache, cfg.Quota.ProfileCacheTTL)

	quotaService := services.NewQuotaService(store, hitRepo, &services.QuotaConfig{
		Limit:           cfg.Quota.Limit,
		FreshnessWindow: cfg.Quota.FreshnessWindow,
		KeyPrefix:       cfg.Quota.KeyPrefix,
		StoreTimeout:    cfg.Admission.StoreTimeout,
		OracleTimeout:   cfg.Quota.OracleTimeout,
	}, collector, logger)

	algorithm, _ := ratelimit.ParseAlgorithm(cfg.RateLimit.Algorithm)
	rateLimiterService := services.NewRateLimiterService(store, &services.RateLimiterConfig{
		Limit:        cfg.RateLimit.Count,
		Window:       cfg.RateLimit.Window,
		Algorithm:    algorithm,
		KeyPrefix:    cfg.RateLimit.KeyPrefix,
		StoreTimeout: cfg.Admission.StoreTimeout,
	}, logger)

	deps := services.AdmissionDeps{
		RateLimiter: rateLimiterService,
		Quota:       quotaService,
		Metrics:     collector,
	}

	sourceFilter, err := services.NewSourceFilter(cfg.Admission.SourceAllowlist, cfg.Admission.SourceBlocklist)
	if err != nil {
		logger.Fatal("Failed to parse source lists:", err)
	}
	if !sourceFilter.Empty() {
		deps.Filter = sourceFilter
	}

	if cfg.Email.SendGridAPIKey != "" {
		notifier, err := email.NewQuotaNotifier(&email.EmailConfig{
			SendGridAPIKey: cfg.Email.SendGridAPIKey,
			FromEmail:      cfg.Email.FromEmail,
			FromName:       cfg.Email.FromName,
			CompanyName:    cfg.Email.CompanyName,
		}, profileRepo, logger)
		if err != nil {
			logger.Fatal("Failed to initialize email notifier:", err)
		}
		deps.Notifier = services.NewOncePerPeriodNotifier(notifier, store, cfg.Cache.NotifyKeyPrefix, logger)
	} else {
		logger.Warn("SENDGRID_API_KEY not set; over-quota notifications disabled")
	}

	ratePolicy, _ := admission.ParseFailurePolicy(cfg.Admission.RateLimitFailurePolicy)
	quotaPolicy, _ := admission.ParseFailurePolicy(cfg.Admission.QuotaFailurePolicy)
	admissionService := services.NewAdmissionService(deps, &services.AdmissionConfig{
		RateLimitFailurePolicy: ratePolicy,
		QuotaFailurePolicy:     quotaPolicy,
		RecordWorkers:          cfg.Admission.RecordWorkers,
		RecordQueueSize:        cfg.Admission.RecordQueueSize,
	}, logger)

	serverConfig := &httpserver.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		TLSCertFile:    cfg.Server.TLSCertFile,
		TLSKeyFile:     cfg.Server.TLSKeyFile,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Environment:    cfg.Server.Environment,
		JWTSecret:      cfg.JWT.Secret,
		JWTIssuer:      cfg.JWT.Issuer,
	}

	server, err := httpserver.NewServer(serverConfig, logger, httpserver.ServerDeps{
		AdmissionService: admissionService,
		IdentityResolver: services.NewIdentityResolver(profileRepo, logger),
		QuotaService:     quotaService,
		HitRepository:    hitRepo,
		HealthCheckers:   hcSlice,
		Registry:         registry,
	})
	if err != nil {
		logger.Fatal("Failed to create server:", err)
	}

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	logger.WithFields(logrus.Fields{
		"quota_limit":    cfg.Quota.Limit,
		"rate_limit":     cfg.RateLimit.Count,
		"rate_window":    cfg.RateLimit.Window,
		"algorithm":      algorithm,
		"cache_backend":  cfg.Cache.Backend,
		"failure_policy": cfg.Admission.FailurePolicy,
	}).Infof("Server started on %s:%s", cfg.Server.Host, cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown:", err)
	}
	// Flush queued hit records and pending notifications before the store goes away
	if err := admissionService.Close(ctx); err != nil {
		logger.Error("Failed to drain admission records:", err)
	}

	logger.Info("Server exited")
}

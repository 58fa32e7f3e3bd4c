package configs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/domain/ratelimit"
)

const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Email     EmailConfig
	Redis     RedisConfig
	Log       LogConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
	Admission AdmissionConfig
	Cache     CacheConfig
}

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
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	DSN      string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type EmailConfig struct {
	SendGridAPIKey string // empty disables over-quota notifications
	FromEmail      string
	FromName       string
	CompanyName    string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Pool and timeout settings
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

type QuotaConfig struct {
	Limit           int64
	PeriodKind      string
	FreshnessWindow time.Duration
	KeyPrefix       string
	OracleTimeout   time.Duration
	ProfileCacheTTL time.Duration
}

type RateLimitConfig struct {
	Count     int64
	Window    time.Duration
	Algorithm string
	KeyPrefix string
}

type AdmissionConfig struct {
	FailurePolicy          string
	RateLimitFailurePolicy string
	QuotaFailurePolicy     string
	StoreTimeout           time.Duration
	RecordWorkers          int
	RecordQueueSize        int
	SourceAllowlist        []string
	SourceBlocklist        []string
}

type CacheConfig struct {
	Backend          string
	MemoryCapacity   int
	NotifyKeyPrefix  string
	ProfileKeyPrefix string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	failurePolicy := getEnv("FAILURE_POLICY", string(admission.FailOpen))

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			TLSCertFile:    getEnv("TLS_CERT_FILE", ""),
			TLSKeyFile:     getEnv("TLS_KEY_FILE", ""),
			AllowedOrigins: getListEnv("SERVER_ALLOWED_ORIGINS"),
			Environment:    getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "quota_db"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			MigrationsPath:  getEnv("DB_MIGRATIONS_PATH", "migrations"),
		},
		JWT: JWTConfig{
			Secret: getEnvRequired("JWT_SECRET"),
			Issuer: getEnv("JWT_ISSUER", ""),
		},
		Email: EmailConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromEmail:      getEnv("FROM_EMAIL", "noreply@example.com"),
			FromName:       getEnv("FROM_NAME", "API Team"),
			CompanyName:    getEnv("COMPANY_NAME", "API Company"),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolTimeout:  getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			IdleTimeout:  getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Quota: QuotaConfig{
			Limit:           getInt64Env("QUOTA_LIMIT", 10000),
			PeriodKind:      getEnv("QUOTA_PERIOD_KIND", string(quota.PeriodCalendarMonth)),
			FreshnessWindow: getDurationEnv("CACHE_FRESHNESS_WINDOW", 5*time.Minute),
			KeyPrefix:       getEnv("QUOTA_KEY_PREFIX", "quota:hits"),
			OracleTimeout:   getDurationEnv("ORACLE_TIMEOUT", 2*time.Second),
			ProfileCacheTTL: getDurationEnv("PROFILE_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Count:     getInt64Env("RATE_LIMIT_COUNT", 50),
			Window:    time.Duration(getIntEnv("RATE_LIMIT_WINDOW_SECONDS", 10)) * time.Second,
			Algorithm: getEnv("RATE_LIMIT_ALGORITHM", string(ratelimit.AlgorithmFixedWindow)),
			KeyPrefix: getEnv("RATE_LIMIT_KEY_PREFIX", "ratelimit:source"),
		},
		Admission: AdmissionConfig{
			FailurePolicy:          failurePolicy,
			RateLimitFailurePolicy: getEnv("RATE_LIMIT_FAILURE_POLICY", failurePolicy),
			QuotaFailurePolicy:     getEnv("QUOTA_FAILURE_POLICY", failurePolicy),
			StoreTimeout:           getDurationEnv("STORE_TIMEOUT", 250*time.Millisecond),
			RecordWorkers:          getIntEnv("RECORD_WORKERS", 8),
			RecordQueueSize:        getIntEnv("RECORD_QUEUE_SIZE", 1024),
			SourceAllowlist:        getListEnv("SOURCE_ALLOWLIST"),
			SourceBlocklist:        getListEnv("SOURCE_BLOCKLIST"),
		},
		Cache: CacheConfig{
			Backend:          getEnv("CACHE_BACKEND", CacheBackendRedis),
			MemoryCapacity:   getIntEnv("MEMORY_STORE_CAPACITY", 100000),
			NotifyKeyPrefix:  getEnv("QUOTA_NOTIFY_KEY_PREFIX", "quota:notified"),
			ProfileKeyPrefix: getEnv("PROFILE_CACHE_PREFIX", "cache"),
		},
	}

	// Build database DSN
	cfg.Database.DSN = fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Quota.Limit <= 0 {
		errs = append(errs, fmt.Errorf("QUOTA_LIMIT must be positive, got %d", c.Quota.Limit))
	}
	if quota.PeriodKind(c.Quota.PeriodKind) != quota.PeriodCalendarMonth {
		errs = append(errs, fmt.Errorf("unsupported QUOTA_PERIOD_KIND %q", c.Quota.PeriodKind))
	}
	if c.Quota.FreshnessWindow <= 0 {
		errs = append(errs, errors.New("CACHE_FRESHNESS_WINDOW must be positive"))
	}
	if c.RateLimit.Count <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_COUNT must be positive, got %d", c.RateLimit.Count))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW_SECONDS must be positive"))
	}
	if _, err := ratelimit.ParseAlgorithm(c.RateLimit.Algorithm); err != nil {
		errs = append(errs, err)
	}
	for _, p := range []string{c.Admission.FailurePolicy, c.Admission.RateLimitFailurePolicy, c.Admission.QuotaFailurePolicy} {
		if _, err := admission.ParseFailurePolicy(p); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Cache.Backend {
	case CacheBackendRedis, CacheBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported CACHE_BACKEND %q", c.Cache.Backend))
	}
	if c.Cache.Backend == CacheBackendMemory && c.Cache.MemoryCapacity <= 0 {
		errs = append(errs, errors.New("MEMORY_STORE_CAPACITY must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated variable, dropping empty items.
func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

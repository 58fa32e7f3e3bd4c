package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(10000), cfg.Quota.Limit)
	assert.Equal(t, "calendar_month", cfg.Quota.PeriodKind)
	assert.Equal(t, 5*time.Minute, cfg.Quota.FreshnessWindow)
	assert.Equal(t, "quota:hits", cfg.Quota.KeyPrefix)
	assert.Equal(t, int64(50), cfg.RateLimit.Count)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "fixed", cfg.RateLimit.Algorithm)
	assert.Equal(t, "fail-open", cfg.Admission.RateLimitFailurePolicy)
	assert.Equal(t, "fail-open", cfg.Admission.QuotaFailurePolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.Admission.StoreTimeout)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Contains(t, cfg.Database.DSN, "dbname=quota_db")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("QUOTA_LIMIT", "500")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "60")
	t.Setenv("RATE_LIMIT_ALGORITHM", "sliding")
	t.Setenv("FAILURE_POLICY", "fail-closed")
	t.Setenv("QUOTA_FAILURE_POLICY", "fail-open")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("SOURCE_BLOCKLIST", " 10.0.0.0/8, ,192.168.1.1 ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(500), cfg.Quota.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "sliding", cfg.RateLimit.Algorithm)
	assert.Equal(t, "fail-closed", cfg.Admission.RateLimitFailurePolicy)
	assert.Equal(t, "fail-open", cfg.Admission.QuotaFailurePolicy)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.Admission.SourceBlocklist)
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"negative limit", "QUOTA_LIMIT", "-1"},
		{"unknown period", "QUOTA_PERIOD_KIND", "weekly"},
		{"unknown algorithm", "RATE_LIMIT_ALGORITHM", "token_bucket"},
		{"unknown policy", "FAILURE_POLICY", "maybe"},
		{"unknown backend", "CACHE_BACKEND", "memcached"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			t.Setenv(tt.key, tt.val)

			cfg, err := Load()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_PanicsWithoutJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	assert.Panics(t, func() { _, _ = Load() })
}

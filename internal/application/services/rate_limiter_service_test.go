package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	impl "github.com/avatarctic/quota-admission/internal/application/services"
	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/ratelimit"
	tmocks "github.com/avatarctic/quota-admission/test/mocks"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	rl := impl.NewRateLimiterService(newMemoryStore(t), &impl.RateLimiterConfig{Limit: 50, Window: 10 * time.Second}, nil)
	base := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)

	for i := 1; i <= 50; i++ {
		st, err := rl.Check(ctx, "203.0.113.7", base)
		require.NoError(t, err)
		require.False(t, st.Throttled, "request %d", i)
		assert.Equal(t, int64(i), st.Count)
	}

	st, err := rl.Check(ctx, "203.0.113.7", base)
	require.NoError(t, err)
	assert.True(t, st.Throttled)
	assert.Equal(t, 9*time.Second, st.RetryAfter)
	assert.True(t, st.Reset.Equal(time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)))

	st, err = rl.Check(ctx, "203.0.113.7", base.Add(10100*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, st.Throttled)
	assert.Equal(t, int64(1), st.Count)
}

func TestRateLimiter_SourcesAreIndependent(t *testing.T) {
	ctx := context.Background()
	rl := impl.NewRateLimiterService(newMemoryStore(t), &impl.RateLimiterConfig{Limit: 2, Window: time.Minute}, nil)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := rl.Check(ctx, "198.51.100.1", now)
		require.NoError(t, err)
	}
	st, err := rl.Check(ctx, "198.51.100.1", now)
	require.NoError(t, err)
	assert.True(t, st.Throttled)

	st, err = rl.Check(ctx, "198.51.100.2", now)
	require.NoError(t, err)
	assert.False(t, st.Throttled)
}

func TestRateLimiter_SlidingWindowWeighsPreviousWindow(t *testing.T) {
	ctx := context.Background()
	rl := impl.NewRateLimiterService(newMemoryStore(t), &impl.RateLimiterConfig{
		Limit:     10,
		Window:    10 * time.Second,
		Algorithm: ratelimit.AlgorithmSlidingWindow,
	}, nil)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		st, err := rl.Check(ctx, "src", t0.Add(time.Second))
		require.NoError(t, err)
		require.False(t, st.Throttled)
	}

	// halfway through the next window the previous ten weigh five
	at := t0.Add(15 * time.Second)
	for i := 0; i < 5; i++ {
		st, err := rl.Check(ctx, "src", at)
		require.NoError(t, err)
		require.False(t, st.Throttled, "request %d", i+1)
	}
	st, err := rl.Check(ctx, "src", at)
	require.NoError(t, err)
	assert.True(t, st.Throttled)
	assert.InDelta(t, time.Second.Seconds(), st.RetryAfter.Seconds(), 0.01)
}

func TestRateLimiter_StoreFailure(t *testing.T) {
	rl := impl.NewRateLimiterService(tmocks.UnavailableStore(), nil, nil)
	_, err := rl.Check(context.Background(), "src", time.Now())
	assert.ErrorIs(t, err, admission.ErrStoreUnavailable)
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := impl.NewRateLimiterService(newMemoryStore(t), nil, nil)
	p := rl.Policy()
	assert.Equal(t, int64(50), p.Limit)
	assert.Equal(t, 10*time.Second, p.Window)
	assert.Equal(t, ratelimit.AlgorithmFixedWindow, p.Algorithm)
}

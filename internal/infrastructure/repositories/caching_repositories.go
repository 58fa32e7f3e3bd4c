package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/avatarctic/quota-admission/internal/core/domain/profile"
	"github.com/avatarctic/quota-admission/internal/core/ports"
)

// Utility helpers
func cacheSetSilently(c ports.Cache, ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.Set(ctx, key, b, ttl)
}

func cacheGet[T any](c ports.Cache, ctx context.Context, key string) (*T, bool) {
	if c == nil {
		return nil, false
	}
	b, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// CachingProfileRepository decorates a ProfileRepository with cache-aside. Profiles are
// read on every admitted request, so concurrent misses for one id are coalesced.
type CachingProfileRepository struct {
	inner ports.ProfileRepository
	cache ports.Cache
	ttl   time.Duration
	sf    singleflight.Group
}

func NewCachingProfileRepository(inner ports.ProfileRepository, cache ports.Cache, ttl time.Duration) ports.ProfileRepository {
	return &CachingProfileRepository{inner: inner, cache: cache, ttl: ttl}
}

func (c *CachingProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	key := "profile:id:" + id.String()
	if v, ok := cacheGet[profile.Profile](c.cache, ctx, key); ok {
		return v, nil
	}
	res, err, _ := c.sf.Do(key, func() (any, error) {
		if v, ok := cacheGet[profile.Profile](c.cache, ctx, key); ok {
			return v, nil
		}
		p, err := c.inner.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		cacheSetSilently(c.cache, ctx, key, p, c.ttl)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p, ok := res.(*profile.Profile)
	if !ok {
		return nil, fmt.Errorf("unexpected type from singleflight result")
	}
	return p, nil
}

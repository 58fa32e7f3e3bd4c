package health

import (
	"context"

	"github.com/avatarctic/quota-admission/internal/core/ports"
	infraDB "github.com/avatarctic/quota-admission/internal/infrastructure/db"
)

// The hit log feeds quota population, so losing it stops fresh counters.
type dbHealthChecker struct{ db *infraDB.Database }

func (d *dbHealthChecker) Name() string                    { return "database" }
func (d *dbHealthChecker) Critical() bool                  { return true }
func (d *dbHealthChecker) Check(ctx context.Context) error { return d.db.DB.PingContext(ctx) }

// counterStoreChecker probes whichever counter store backend is configured.
type counterStoreChecker struct{ store ports.CounterStore }

func (c *counterStoreChecker) Name() string                    { return "counter_store" }
func (c *counterStoreChecker) Critical() bool                  { return true }
func (c *counterStoreChecker) Check(ctx context.Context) error { return c.store.Ping(ctx) }

// Profiles fall through to the database when the cache is down.
type profileCacheChecker struct{ cache ports.Cache }

func (p *profileCacheChecker) Name() string                    { return "profile_cache" }
func (p *profileCacheChecker) Critical() bool                  { return false }
func (p *profileCacheChecker) Check(ctx context.Context) error { return p.cache.Ping(ctx) }

// NewDBHealthChecker creates a health checker for the database.
func NewDBHealthChecker(db *infraDB.Database) ports.HealthChecker { return &dbHealthChecker{db: db} }

// NewCounterStoreHealthChecker creates a health checker for the counter store.
func NewCounterStoreHealthChecker(store ports.CounterStore) ports.HealthChecker {
	return &counterStoreChecker{store: store}
}

// NewProfileCacheHealthChecker creates a health checker for the profile cache.
func NewProfileCacheHealthChecker(cache ports.Cache) ports.HealthChecker {
	return &profileCacheChecker{cache: cache}
}

package ports

import (
	"context"
	"time"
)

// Cache is the byte-level read-through cache in front of profile lookups. Callers treat
// every cache error as a miss; counters never live here.
type Cache interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set with ttl <= 0 keeps the entry until evicted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

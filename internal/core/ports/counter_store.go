package ports

import (
	"context"
	"time"

	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
)

// CounterStore is a fast, expiring key -> count cache shared by all workers.
// Every failure wraps admission.ErrStoreUnavailable. Implementations MUST make
// Increment and IncrementExisting atomic per key.
type CounterStore interface {
	// Get returns the live record for key. ok=false on miss or after expiry.
	Get(ctx context.Context, key string) (rec quota.CounterRecord, ok bool, err error)
	// Put overwrites the record for key and sets its ttl (<=0 means no expiry).
	Put(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) error
	// PutIfAbsent stores rec only when key is missing and returns whichever record is live afterwards.
	PutIfAbsent(ctx context.Context, key string, rec quota.CounterRecord, ttl time.Duration) (quota.CounterRecord, error)
	// Increment adds delta, creating the record at delta when missing. ttl applies only on creation.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// IncrementExisting adds delta only when key is live; ok=false on miss.
	IncrementExisting(ctx context.Context, key string, delta int64) (n int64, ok bool, err error)
	Ping(ctx context.Context) error
}

package ports

import (
	"context"
	"time"

	"github.com/avatarctic/quota-admission/internal/core/domain/ratelimit"
)

// RateLimiterService defines a per-source short-window limiter.
// Implementations encapsulate algorithm & storage and MUST be safe for concurrent use.
type RateLimiterService interface {
	// Check consumes one request unit for sourceKey in the window containing now.
	Check(ctx context.Context, sourceKey string, now time.Time) (ratelimit.Status, error)
}

package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
)

// QuotaService maintains current-period hit counts per identity.
type QuotaService interface {
	// Check reads the count for the identity's current period without mutating it.
	Check(ctx context.Context, identity quota.Identity, now time.Time) (quota.Status, error)
	// Record adds one hit to the identity's current period and returns the new count.
	Record(ctx context.Context, identity quota.Identity, now time.Time) (int64, error)
}

// IdentityResolver turns an identity id into an Identity with the offset valid at now.
type IdentityResolver interface {
	Resolve(ctx context.Context, id uuid.UUID, now time.Time) quota.Identity
}

// QuotaNotifier tells an identity it ran out of quota for a period.
type QuotaNotifier interface {
	NotifyOverQuota(ctx context.Context, identity quota.Identity, status quota.Status) error
}

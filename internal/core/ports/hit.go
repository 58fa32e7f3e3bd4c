package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avatarctic/quota-admission/internal/core/domain/hit"
)

// HitOracle is the read-only, eventually consistent count over the durable hit log.
type HitOracle interface {
	// CountHits counts hits of identityID with createdAt in [start, end).
	CountHits(ctx context.Context, identityID uuid.UUID, start, end time.Time) (int64, error)
}

// HitRepository appends to and counts the durable hit log.
type HitRepository interface {
	HitOracle
	Create(ctx context.Context, h *hit.Hit) error
}

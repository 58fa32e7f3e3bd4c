package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/avatarctic/quota-admission/internal/core/domain/profile"
)

// ProfileRepository reads user profiles (timezone, notification address).
type ProfileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*profile.Profile, error)
}

package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/ports"
)

// IdentityResolver implements ports.IdentityResolver from user profiles. Any lookup or
// timezone problem degrades to a UTC identity instead of failing the request.
type IdentityResolver struct {
	profiles ports.ProfileRepository
	logger   *logrus.Logger
}

func NewIdentityResolver(profiles ports.ProfileRepository, logger *logrus.Logger) *IdentityResolver {
	return &IdentityResolver{profiles: profiles, logger: logger}
}

func (r *IdentityResolver) Resolve(ctx context.Context, id uuid.UUID, now time.Time) quota.Identity {
	utc := quota.Identity{ID: id}
	if r.profiles == nil {
		return utc
	}
	p, err := r.profiles.GetByID(ctx, id)
	if err != nil || p == nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identity_id": id}).WithError(err).Warn("identity: profile lookup failed; using UTC")
		}
		return utc
	}
	offset, err := p.OffsetAt(now)
	if err == nil {
		var ident quota.Identity
		ident, err = quota.NewIdentity(id, offset)
		if err == nil {
			return ident
		}
	}
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"identity_id": id, "timezone": p.Timezone}).WithError(err).Warn("identity: invalid timezone; using UTC")
	}
	return utc
}

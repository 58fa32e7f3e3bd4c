package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/profile"
	"github.com/avatarctic/quota-admission/internal/core/ports"
	"github.com/avatarctic/quota-admission/internal/infrastructure/db"
)

// ProfileRepository implements ports.ProfileRepository over the profiles table
type ProfileRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(database *db.Database, logger *logrus.Logger) ports.ProfileRepository {
	return &ProfileRepository{db: database, logger: logger}
}

// GetByID retrieves a profile by ID
func (r *ProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	var p profile.Profile
	query := `
		SELECT id, email, display_name, timezone, timezone_offset, created_at, updated_at
		FROM profiles
		WHERE id = $1`

	err := r.db.DB.GetContext(ctx, &p, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if r.logger != nil {
				r.logger.WithFields(logrus.Fields{"user_id": id}).Debug("db: profile not found by ID")
			}
			return nil, fmt.Errorf("%w: %s", admission.ErrProfileNotFound, id)
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"user_id": id}).WithError(err).Error("db: failed to get profile by ID")
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/hit"
	"github.com/avatarctic/quota-admission/internal/core/ports"
	"github.com/avatarctic/quota-admission/internal/infrastructure/db"
)

type hitRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewHitRepository creates the Postgres-backed hit log, which doubles as the quota oracle.
func NewHitRepository(database *db.Database, logger *logrus.Logger) ports.HitRepository {
	return &hitRepository{db: database, logger: logger}
}

// Create inserts a hit into the log
func (r *hitRepository) Create(ctx context.Context, h *hit.Hit) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO hits (id, user_id, source_key, method, path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.DB.ExecContext(ctx, query, h.ID, h.UserID, h.SourceKey, h.Method, h.Path, h.CreatedAt)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"user_id": h.UserID, "path": h.Path}).WithError(err).Error("db: failed to insert hit")
		}
		return fmt.Errorf("failed to insert hit: %w", err)
	}
	return nil
}

// CountHits counts hits in [start, end). Served by the (user_id, created_at) index.
func (r *hitRepository) CountHits(ctx context.Context, identityID uuid.UUID, start, end time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM hits WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`

	var count int64
	if err := r.db.DB.GetContext(ctx, &count, query, identityID, start, end); err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"user_id": identityID, "start": start, "end": end}).WithError(err).Error("db: failed to count hits")
		}
		return 0, fmt.Errorf("%w: %w", admission.ErrOracleUnavailable, err)
	}
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"user_id": identityID, "count": count}).Debug("db: hits counted")
	}
	return count, nil
}

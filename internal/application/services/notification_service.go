package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/ports"
)

// OncePerPeriodNotifier decorates a QuotaNotifier so each identity is told at most once
// per period. The guard is a counter in the shared store, so it holds across processes.
type OncePerPeriodNotifier struct {
	inner     ports.QuotaNotifier
	store     ports.CounterStore
	keyPrefix string
	logger    *logrus.Logger
}

func NewOncePerPeriodNotifier(inner ports.QuotaNotifier, store ports.CounterStore, keyPrefix string, logger *logrus.Logger) *OncePerPeriodNotifier {
	if keyPrefix == "" {
		keyPrefix = "quota:notified"
	}
	return &OncePerPeriodNotifier{inner: inner, store: store, keyPrefix: keyPrefix, logger: logger}
}

func (n *OncePerPeriodNotifier) NotifyOverQuota(ctx context.Context, identity quota.Identity, status quota.Status) error {
	key := fmt.Sprintf("%s:%s:%d", n.keyPrefix, identity.ID, status.Period.Start.Unix())
	ttl := time.Until(status.Period.End) + time.Hour
	if ttl < time.Hour {
		ttl = time.Hour
	}
	count, err := n.store.Increment(ctx, key, 1, ttl)
	if err != nil {
		if n.logger != nil {
			n.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "key": key}).WithError(err).Error("notifier: failed to claim over-quota notice")
		}
		return err
	}
	if count != 1 {
		return nil
	}
	if err := n.inner.NotifyOverQuota(ctx, identity, status); err != nil {
		if n.logger != nil {
			n.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "period_start": status.Period.Start}).WithError(err).Error("notifier: over-quota notice failed")
		}
		return err
	}
	if n.logger != nil {
		n.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "count": status.Count, "limit": status.Limit}).Info("notifier: over-quota notice sent")
	}
	return nil
}

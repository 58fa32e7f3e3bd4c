package services_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	impl "github.com/avatarctic/quota-admission/internal/application/services"
	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	tmocks "github.com/avatarctic/quota-admission/test/mocks"
)

func TestOncePerPeriodNotifier_SendsOncePerPeriod(t *testing.T) {
	ctx := context.Background()
	var sent int32
	inner := &tmocks.QuotaNotifierMock{NotifyOverQuotaFn: func(context.Context, quota.Identity, quota.Status) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}}
	n := impl.NewOncePerPeriodNotifier(inner, newMemoryStore(t), "", nil)
	id := quota.Identity{ID: uuid.New()}
	st := quota.Status{Count: 10000, Limit: 10000, Period: quota.BoundaryFor(may15, 0)}

	for i := 0; i < 3; i++ {
		require.NoError(t, n.NotifyOverQuota(ctx, id, st))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&sent))

	next := st
	next.Period = quota.BoundaryFor(st.Period.End, 0)
	require.NoError(t, n.NotifyOverQuota(ctx, id, next))
	assert.Equal(t, int32(2), atomic.LoadInt32(&sent))

	require.NoError(t, n.NotifyOverQuota(ctx, quota.Identity{ID: uuid.New()}, st))
	assert.Equal(t, int32(3), atomic.LoadInt32(&sent))
}

func TestOncePerPeriodNotifier_PropagatesErrors(t *testing.T) {
	st := quota.Status{Period: quota.BoundaryFor(may15, 0)}
	boom := errors.New("smtp down")
	inner := &tmocks.QuotaNotifierMock{NotifyOverQuotaFn: func(context.Context, quota.Identity, quota.Status) error { return boom }}

	n := impl.NewOncePerPeriodNotifier(inner, newMemoryStore(t), "notified", nil)
	assert.ErrorIs(t, n.NotifyOverQuota(context.Background(), quota.Identity{ID: uuid.New()}, st), boom)

	logger, hook := logtest.NewNullLogger()
	id := quota.Identity{ID: uuid.New()}
	n = impl.NewOncePerPeriodNotifier(inner, tmocks.UnavailableStore(), "notified", logger)
	assert.ErrorIs(t, n.NotifyOverQuota(context.Background(), id, st), admission.ErrStoreUnavailable)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, id.ID, entry.Data["identity_id"])
}

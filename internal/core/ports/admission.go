package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
)

// AdmissionService composes the source filter, rate limiter and quota counter.
type AdmissionService interface {
	Decide(ctx context.Context, identity quota.Identity, sourceKey string, now time.Time) admission.Decision
}

// RecordSequencer is implemented by admission services that record hits in the background.
// AfterRecord runs fn once the hits already admitted for identity have been counted.
type RecordSequencer interface {
	AfterRecord(ctx context.Context, identity uuid.UUID, fn func(ctx context.Context))
}

// SourceFilter is the optional allow/deny pre-filter consulted before any limiter.
type SourceFilter interface {
	Classify(sourceKey string) admission.SourceClass
}

// AdmissionMetrics receives engine events. A nil implementation is never passed to services;
// they substitute a no-op.
type AdmissionMetrics interface {
	ObserveDecision(d admission.Decision)
	DependencyFailure(component string)
	OracleQuery(elapsed time.Duration, err error)
	RecordResult(err error)
}

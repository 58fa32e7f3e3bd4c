package services

import (
	"time"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
)

type noopMetrics struct{}

func (noopMetrics) ObserveDecision(admission.Decision) {}
func (noopMetrics) DependencyFailure(string)           {}
func (noopMetrics) OracleQuery(time.Duration, error)   {}
func (noopMetrics) RecordResult(error)                 {}

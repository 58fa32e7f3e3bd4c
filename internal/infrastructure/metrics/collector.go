package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
)

// Collector implements ports.AdmissionMetrics on top of Prometheus.
type Collector struct {
	decisions     *prometheus.CounterVec
	degraded      prometheus.Counter
	depFailures   *prometheus.CounterVec
	oracleLatency prometheus.Histogram
	oracleErrors  prometheus.Counter
	records       *prometheus.CounterVec
}

// NewCollector creates the admission metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Admission decisions by reason",
			},
			[]string{"reason"},
		),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_degraded_decisions_total",
			Help: "Decisions made while a dependency was failing open",
		}),
		depFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_dependency_failures_total",
				Help: "Counter store or oracle failures by component",
			},
			[]string{"component"},
		),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quota_oracle_query_duration_seconds",
			Help:    "Latency of durable hit count queries",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
		oracleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quota_oracle_errors_total",
			Help: "Failed durable hit count queries",
		}),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_records_total",
				Help: "Quota increments by result",
			},
			[]string{"result"},
		),
	}

	for _, col := range []prometheus.Collector{c.decisions, c.degraded, c.depFailures, c.oracleLatency, c.oracleErrors, c.records} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveDecision(d admission.Decision) {
	c.decisions.WithLabelValues(string(d.Reason)).Inc()
	if d.Degraded {
		c.degraded.Inc()
	}
}

func (c *Collector) DependencyFailure(component string) {
	c.depFailures.WithLabelValues(component).Inc()
}

func (c *Collector) OracleQuery(elapsed time.Duration, err error) {
	c.oracleLatency.Observe(elapsed.Seconds())
	if err != nil {
		c.oracleErrors.Inc()
	}
}

func (c *Collector) RecordResult(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.records.WithLabelValues(result).Inc()
}

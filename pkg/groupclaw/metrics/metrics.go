// Package metrics exposes Prometheus collectors for batch runs and the HTTP
// listener that serves them alongside a health check.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	groupOps      *prometheus.CounterVec
	llmRequests   *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	lastRun       *prometheus.GaugeVec
}

// MustNew registers the collectors with reg. Collectors that are already
// registered are reused, so building Metrics twice against the same
// registry is safe.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		groupOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "groupclaw",
				Name:      "group_operations_total",
				Help:      "Per-group operations by task and outcome.",
			},
			[]string{"task", "outcome"},
		),
		llmRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "groupclaw",
				Name:      "llm_requests_total",
				Help:      "Completion requests by kind (summary, followup) and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "groupclaw",
				Name:      "batch_duration_seconds",
				Help:      "Wall time of a batch run, browser launch included.",
				Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"task"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "groupclaw",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time a batch run last finished, by task and status.",
			},
			[]string{"task", "status"},
		),
	}

	m.groupOps = register(reg, m.groupOps)
	m.llmRequests = register(reg, m.llmRequests)
	m.batchDuration = register(reg, m.batchDuration)
	m.lastRun = register(reg, m.lastRun)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// GroupOperation counts one per-group step of a batch.
func (m *Metrics) GroupOperation(task, outcome string) {
	if m == nil {
		return
	}
	m.groupOps.WithLabelValues(task, outcome).Inc()
}

// LLMRequest counts one completion request.
func (m *Metrics) LLMRequest(kind, outcome string) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(kind, outcome).Inc()
}

// ObserveBatch records a finished batch run.
func (m *Metrics) ObserveBatch(task, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(task).Observe(d.Seconds())
	m.lastRun.WithLabelValues(task, status).SetToCurrentTime()
}

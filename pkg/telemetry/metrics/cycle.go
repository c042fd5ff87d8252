package metrics

import (
	"time"

	"mercator-hq/ilm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CycleMetrics tracks lifecycle cycles and the actions they carry out.
//
// Metrics:
//   - ilm_cycle_runs_total: Cycles by trigger and status
//   - ilm_cycle_duration_seconds: Cycle duration
//   - ilm_cycle_actions_emitted_total: Actions produced by evaluation
//   - ilm_cycle_actions_applied_total: Action outcomes by status
//   - ilm_cycle_backend_retries_total: Retried backend calls
type CycleMetrics struct {
	runsTotal      *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	emittedTotal   *prometheus.CounterVec
	appliedTotal   *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	lastCycleStamp prometheus.Gauge
}

// NewCycleMetrics creates and registers cycle metrics with the provided registry.
func NewCycleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CycleMetrics {
	cm := &CycleMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cycle",
				Name:      "runs_total",
				Help:      "Total number of lifecycle cycles",
			},
			[]string{"trigger", "status"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cycle",
				Name:      "duration_seconds",
				Help:      "Duration of lifecycle cycles in seconds",
				Buckets:   cfg.CycleDurationBuckets,
			},
			[]string{"trigger"},
		),

		emittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cycle",
				Name:      "actions_emitted_total",
				Help:      "Total number of actions produced by policy evaluation",
			},
			[]string{"stream", "kind", "reason"},
		),

		appliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cycle",
				Name:      "actions_applied_total",
				Help:      "Total number of actions carried out, by outcome",
			},
			[]string{"stream", "kind", "status"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cycle",
				Name:      "backend_retries_total",
				Help:      "Total number of retried index backend calls",
			},
			[]string{"backend", "kind"},
		),

		lastCycleStamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cycle",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last cycle finished",
			},
		),
	}

	registry.MustRegister(
		cm.runsTotal,
		cm.duration,
		cm.emittedTotal,
		cm.appliedTotal,
		cm.retriesTotal,
		cm.lastCycleStamp,
	)

	return cm
}

// RecordCycle records a completed cycle.
func (cm *CycleMetrics) RecordCycle(trigger, status string, duration time.Duration) {
	cm.runsTotal.WithLabelValues(trigger, status).Inc()
	cm.duration.WithLabelValues(trigger).Observe(duration.Seconds())
	cm.lastCycleStamp.SetToCurrentTime()
}

// RecordEmitted records an action produced by evaluation.
func (cm *CycleMetrics) RecordEmitted(stream, kind, reason string) {
	cm.emittedTotal.WithLabelValues(stream, kind, reason).Inc()
}

// RecordApplied records an action outcome.
func (cm *CycleMetrics) RecordApplied(stream, kind, status string) {
	cm.appliedTotal.WithLabelValues(stream, kind, status).Inc()
}

// RecordRetry records a retried backend call.
func (cm *CycleMetrics) RecordRetry(backend, kind string) {
	cm.retriesTotal.WithLabelValues(backend, kind).Inc()
}

package metrics

import (
	"mercator-hq/ilm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// IndexMetrics tracks the index inventory and its supporting operations.
//
// Metrics:
//   - ilm_index_records: Index records per stream and state
//   - ilm_index_policies: Registered retention policies
//   - ilm_index_archives_total: Manifest uploads by archiver and status
//   - ilm_index_policy_reloads_total: Policy file reloads by status
type IndexMetrics struct {
	records       *prometheus.GaugeVec
	policies      prometheus.Gauge
	archivesTotal *prometheus.CounterVec
	reloadsTotal  *prometheus.CounterVec
}

// NewIndexMetrics creates and registers index metrics with the provided registry.
func NewIndexMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *IndexMetrics {
	im := &IndexMetrics{
		records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "index",
				Name:      "records",
				Help:      "Number of index records by stream and state",
			},
			[]string{"stream", "state"},
		),

		policies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "index",
				Name:      "policies",
				Help:      "Number of registered retention policies",
			},
		),

		archivesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "index",
				Name:      "archives_total",
				Help:      "Total number of index manifests archived",
			},
			[]string{"archiver", "status"},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "index",
				Name:      "policy_reloads_total",
				Help:      "Total number of policy file reloads",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		im.records,
		im.policies,
		im.archivesTotal,
		im.reloadsTotal,
	)

	return im
}

// SetRecords sets the record count of every state for stream.
func (im *IndexMetrics) SetRecords(stream string, byState map[string]int) {
	for state, n := range byState {
		im.records.WithLabelValues(stream, state).Set(float64(n))
	}
}

// SetPolicies sets the number of registered policies.
func (im *IndexMetrics) SetPolicies(n int) {
	im.policies.Set(float64(n))
}

// RecordArchive records a manifest upload outcome.
func (im *IndexMetrics) RecordArchive(archiver string, err error) {
	im.archivesTotal.WithLabelValues(archiver, status(err)).Inc()
}

// RecordPolicyReload records a policy reload outcome.
func (im *IndexMetrics) RecordPolicyReload(err error) {
	im.reloadsTotal.WithLabelValues(status(err)).Inc()
}

// Forget deletes every series for stream.
func (im *IndexMetrics) Forget(stream string) {
	im.records.DeletePartialMatch(prometheus.Labels{"stream": stream})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

package metrics

import (
	"mercator-hq/ilm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics tracks writes recorded against active indices.
//
// Metrics:
//   - ilm_writes_total: Writes per stream
//   - ilm_writes_bytes_total: Bytes written per stream
//   - ilm_writes_rejected_total: Writes refused by reason
//   - ilm_writes_active_index_bytes: Size of each stream's active index
type WriteMetrics struct {
	writesTotal      *prometheus.CounterVec
	bytesTotal       *prometheus.CounterVec
	rejectedTotal    *prometheus.CounterVec
	activeIndexBytes *prometheus.GaugeVec
}

// NewWriteMetrics creates and registers write metrics with the provided registry.
func NewWriteMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *WriteMetrics {
	wm := &WriteMetrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "writes",
				Name:      "total",
				Help:      "Total number of writes recorded",
			},
			[]string{"stream"},
		),

		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "writes",
				Name:      "bytes_total",
				Help:      "Total bytes written to active indices",
			},
			[]string{"stream"},
		),

		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "writes",
				Name:      "rejected_total",
				Help:      "Total number of rejected writes",
			},
			[]string{"reason"},
		),

		activeIndexBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "writes",
				Name:      "active_index_bytes",
				Help:      "Current size of the active index in bytes",
			},
			[]string{"stream"},
		),
	}

	registry.MustRegister(
		wm.writesTotal,
		wm.bytesTotal,
		wm.rejectedTotal,
		wm.activeIndexBytes,
	)

	return wm
}

// RecordWrite records a write and the resulting active index size.
func (wm *WriteMetrics) RecordWrite(stream string, bytes, activeSize int64) {
	wm.writesTotal.WithLabelValues(stream).Inc()
	wm.bytesTotal.WithLabelValues(stream).Add(float64(bytes))
	wm.activeIndexBytes.WithLabelValues(stream).Set(float64(activeSize))
}

// RecordRejected records a rejected write.
func (wm *WriteMetrics) RecordRejected(reason string) {
	wm.rejectedTotal.WithLabelValues(reason).Inc()
}

// Forget deletes every series for stream.
func (wm *WriteMetrics) Forget(stream string) {
	labels := prometheus.Labels{"stream": stream}
	wm.writesTotal.DeletePartialMatch(labels)
	wm.bytesTotal.DeletePartialMatch(labels)
	wm.activeIndexBytes.DeletePartialMatch(labels)
}

// Package metrics exports lifecycle metrics to Prometheus.
//
// # Metrics Categories
//
//   - Write metrics: writes, bytes and active index size per stream
//   - Cycle metrics: cycle count and duration, actions emitted and applied,
//     backend retries
//   - Index metrics: records per stream and state, registered policies,
//     archive uploads, policy reloads
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordWrite("api", 512, 4096)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// Stream labels are capped by a CardinalityLimiter; streams beyond the cap
// are reported as "other".
package metrics

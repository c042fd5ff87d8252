// Package telemetry groups the daemon's observability packages.
//
//   - logging: slog loggers carrying run and stream identifiers
//   - metrics: Prometheus collector for writes, cycles and index inventory
//   - health: liveness, readiness and version endpoints
package telemetry

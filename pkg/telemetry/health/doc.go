// Package health provides liveness, readiness and version endpoints.
//
// # Endpoints
//
//   - /health: the process is running
//   - /ready: registered component checks pass
//   - /version: build information
//
// # Critical and Optional Checks
//
// Checks registered with RegisterCheck are critical: when one fails the
// readiness probe answers 503 with status "unhealthy". Checks registered
// with RegisterOptionalCheck only move the status to "degraded" and the
// probe still answers 200.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("state", health.PingCheck(stateDB))
//	checker.RegisterOptionalCheck("cycle", health.CycleFreshnessCheck(mgr.LastCycle, 15*time.Minute, nil))
//	health.Register(mux, checker, health.VersionInfo{Version: version})
package health

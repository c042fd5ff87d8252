package health

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"
)

// CheckFunc probes one component. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Status values reported by checks and by the aggregate.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrCheckTimeout is reported for a check that did not return in time.
var ErrCheckTimeout = errors.New("health check timeout")

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status     string  `json:"status"`
	Message    string  `json:"message,omitempty"`
	Critical   bool    `json:"critical"`
	DurationMS float64 `json:"duration_ms"`
}

// HealthStatus is the body of the /health and /ready probes.
type HealthStatus struct {
	// Status is "ok" for liveness and "ready", "degraded" or "unhealthy"
	// for readiness.
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Ready reports whether the status should be served as 200.
func (s HealthStatus) Ready() bool {
	return s.Status != StatusUnhealthy
}

type check struct {
	fn       CheckFunc
	critical bool
}

// Checker runs the readiness checks of the daemon's components. A failing
// critical check makes the process unhealthy. A failing optional check only
// degrades it.
type Checker struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]check
}

// New creates a checker that gives each check timeout to answer.
// A zero timeout means 5s.
func New(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{timeout: timeout, checks: make(map[string]check)}
}

// RegisterCheck adds a critical check, replacing one of the same name.
func (c *Checker) RegisterCheck(name string, fn CheckFunc) {
	c.set(name, check{fn: fn, critical: true})
}

// RegisterOptionalCheck adds a check whose failure only degrades readiness.
func (c *Checker) RegisterOptionalCheck(name string, fn CheckFunc) {
	c.set(name, check{fn: fn})
}

func (c *Checker) set(name string, ch check) {
	c.mu.Lock()
	c.checks[name] = ch
	c.mu.Unlock()
}

// UnregisterCheck removes the named check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	delete(c.checks, name)
	c.mu.Unlock()
}

// ListChecks returns the registered check names in sorted order.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.checks))
}

// CheckLiveness reports that the process is up. It runs no checks.
func (c *Checker) CheckLiveness(context.Context) HealthStatus {
	return HealthStatus{Status: StatusOK, Timestamp: time.Now()}
}

// CheckReadiness runs all checks concurrently and folds their results.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	names := slices.Sorted(maps.Keys(checks))
	results := make([]CheckResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := checks[name]
			results[i] = c.run(ctx, ch.fn)
			results[i].Critical = ch.critical
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusReady,
		Checks:    make(map[string]CheckResult, len(names)),
		Timestamp: time.Now(),
	}
	for i, name := range names {
		r := results[i]
		status.Checks[name] = r
		switch {
		case r.Status != StatusUnhealthy:
		case r.Critical:
			status.Status = StatusUnhealthy
		case status.Status == StatusReady:
			status.Status = StatusDegraded
		}
	}
	return status
}

// run executes fn, giving up after the checker's timeout even if fn ignores
// its context.
func (c *Checker) run(ctx context.Context, fn CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ErrCheckTimeout
	}

	r := CheckResult{Status: StatusOK, DurationMS: float64(time.Since(start).Microseconds()) / 1000}
	if err != nil {
		r.Status = StatusUnhealthy
		r.Message = err.Error()
	}
	return r
}

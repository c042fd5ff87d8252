package metrics

import (
	"sync"
	"time"

	"mercator-hq/ilm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// otherStream is the label used once the stream cardinality limit is reached.
const otherStream = "other"

// Collector owns every Prometheus metric exported by the lifecycle daemon.
// All methods are safe on a nil *Collector and do nothing when metrics are
// disabled, so components can hold one unconditionally.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	writeMetrics *WriteMetrics
	cycleMetrics *CycleMetrics
	indexMetrics *IndexMetrics

	// Streams are caller-controlled labels.
	streamLimiter *CardinalityLimiter
}

// NewCollector creates a collector registering into registry. A nil
// registry gets a fresh private one.
//
// Example:
//
//	cfg := &config.MetricsConfig{Enabled: true, Namespace: "ilm"}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.CycleDurationBuckets) == 0 {
		cfg.CycleDurationBuckets = append([]float64(nil), config.DefaultCycleDurationBuckets...)
	}

	return &Collector{
		config:        cfg,
		registry:      registry,
		writeMetrics:  NewWriteMetrics(cfg, registry),
		cycleMetrics:  NewCycleMetrics(cfg, registry),
		indexMetrics:  NewIndexMetrics(cfg, registry),
		streamLimiter: NewCardinalityLimiter(1000),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

func (c *Collector) stream(name string) string {
	if !c.streamLimiter.Allow(name) {
		return otherStream
	}
	return name
}

// RecordWrite records bytes appended to a stream's active index.
func (c *Collector) RecordWrite(stream string, bytes int64, activeSize int64) {
	if !c.enabled() {
		return
	}
	c.writeMetrics.RecordWrite(c.stream(stream), bytes, activeSize)
}

// RecordWriteRejected records a write refused by the store.
//
// Parameters:
//   - reason: "unknown_stream" or "invalid_write"
func (c *Collector) RecordWriteRejected(reason string) {
	if !c.enabled() {
		return
	}
	c.writeMetrics.RecordRejected(reason)
}

// RecordCycle records a completed lifecycle cycle.
//
// Parameters:
//   - trigger: what started the cycle ("schedule", "api", "cli")
//   - status: "success" or "partial" when any action failed
func (c *Collector) RecordCycle(trigger, status string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.cycleMetrics.RecordCycle(trigger, status, duration)
}

// RecordActionEmitted records an action produced by the evaluator.
func (c *Collector) RecordActionEmitted(stream, kind, reason string) {
	if !c.enabled() {
		return
	}
	c.cycleMetrics.RecordEmitted(c.stream(stream), kind, reason)
}

// RecordActionApplied records the outcome of carrying out an action.
//
// Parameters:
//   - status: a journal status such as "applied", "already_deleted", "failed"
func (c *Collector) RecordActionApplied(stream, kind, status string) {
	if !c.enabled() {
		return
	}
	c.cycleMetrics.RecordApplied(c.stream(stream), kind, status)
}

// RecordBackendRetry records a retried backend call.
func (c *Collector) RecordBackendRetry(backend, kind string) {
	if !c.enabled() {
		return
	}
	c.cycleMetrics.RecordRetry(backend, kind)
}

// RecordArchive records a manifest upload.
func (c *Collector) RecordArchive(archiver string, err error) {
	if !c.enabled() {
		return
	}
	c.indexMetrics.RecordArchive(archiver, err)
}

// RecordPolicyReload records a policy file reload.
func (c *Collector) RecordPolicyReload(err error) {
	if !c.enabled() {
		return
	}
	c.indexMetrics.RecordPolicyReload(err)
}

// UpdateIndexCounts sets the number of records per stream and state.
// counts maps stream to state name to record count; streams missing from
// counts keep their previous values.
func (c *Collector) UpdateIndexCounts(counts map[string]map[string]int) {
	if !c.enabled() {
		return
	}
	for stream, byState := range counts {
		c.indexMetrics.SetRecords(c.stream(stream), byState)
	}
}

// SetPolicies sets the number of registered policies.
func (c *Collector) SetPolicies(n int) {
	if !c.enabled() {
		return
	}
	c.indexMetrics.SetPolicies(n)
}

// ForgetStream drops per-stream series after a policy is removed.
func (c *Collector) ForgetStream(stream string) {
	if !c.enabled() {
		return
	}
	c.writeMetrics.Forget(stream)
	c.indexMetrics.Forget(stream)
	c.streamLimiter.Release(stream)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct values a label may take.
type CardinalityLimiter struct {
	limit int

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewCardinalityLimiter creates a limiter admitting up to limit values.
func NewCardinalityLimiter(limit int) *CardinalityLimiter {
	return &CardinalityLimiter{limit: limit, seen: make(map[string]struct{})}
}

// Allow reports whether value may be used as a label. Values already
// admitted always pass and new ones pass while there is room.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, ok := cl.seen[value]; ok {
		return true
	}
	if len(cl.seen) >= cl.limit {
		return false
	}
	cl.seen[value] = struct{}{}
	return true
}

// Release frees the slot held by value.
func (cl *CardinalityLimiter) Release(value string) {
	cl.mu.Lock()
	delete(cl.seen, value)
	cl.mu.Unlock()
}

// Count returns how many values are admitted.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.seen)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/ilm/pkg/config"
	"mercator-hq/ilm/pkg/lifecycle"
	"mercator-hq/ilm/pkg/lifecycle/backend"
	"mercator-hq/ilm/pkg/lifecycle/journal"
	"mercator-hq/ilm/pkg/lifecycle/manager"
	"mercator-hq/ilm/pkg/telemetry/health"
	"mercator-hq/ilm/pkg/telemetry/logging"
	"mercator-hq/ilm/pkg/telemetry/metrics"
	"mercator-hq/ilm/pkg/telemetry/tracing"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	handler http.Handler
	store   *lifecycle.PolicyStore
	journal *journal.MemoryJournal
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTracedEnv(t, nil)
}

// newTracedEnv is newTestEnv with tracer shared by the server and manager.
func newTracedEnv(t *testing.T, tracer *tracing.Tracer) *testEnv {
	t.Helper()

	env := &testEnv{now: t0}
	env.store = lifecycle.NewPolicyStore(
		lifecycle.WithClock(func() time.Time { return t0 }),
		lifecycle.WithLogger(logging.Discard()),
	)
	if err := env.store.RegisterPolicy(lifecycle.RetentionPolicy{
		Stream:          "api",
		RolloverMaxAge:  24 * time.Hour,
		RolloverMaxSize: 1000,
		DeleteMinAge:    72 * time.Hour,
	}); err != nil {
		t.Fatalf("RegisterPolicy() failed: %v", err)
	}

	env.journal = journal.NewMemoryJournal()
	mcfg := config.MetricsConfig{Enabled: true, Namespace: "ilm", Path: "/metrics"}
	collector := metrics.NewCollector(&mcfg, prometheus.NewRegistry())

	m := manager.New(env.store, backend.NewMemoryBackend(logging.Discard()), manager.Config{},
		manager.WithJournal(env.journal),
		manager.WithMetrics(collector),
		manager.WithLogger(logging.Discard()),
		manager.WithTracer(tracer),
	)

	checker := health.New(time.Second)
	checker.RegisterCheck("store", func(context.Context) error { return nil })

	srv := New(&config.ServerConfig{ShutdownTimeout: time.Second}, m,
		WithHealth(checker, health.VersionInfo{Version: "test"}),
		WithMetrics(collector, "/metrics"),
		WithLogger(logging.Discard()),
		WithTracer(tracer),
		WithClock(func() time.Time { return env.now }),
	)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, code int, errType string) {
	t.Helper()
	if w.Code != code {
		t.Errorf("status = %d, want %d (%s)", w.Code, code, w.Body.String())
	}
	if got := decode[ErrorResponse](t, w); got.Error.Type != errType || got.Error.Message == "" {
		t.Errorf("error = %+v, want type %q", got.Error, errType)
	}
}

func TestWrite(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/streams/api/writes", `{"bytes": 300}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/v1/streams/api/writes", `{"bytes": 200}`)
	rec := decode[lifecycle.IndexRecord](t, w)
	if rec.SizeBytes != 500 || rec.Generation != 0 || rec.State != lifecycle.StateActive {
		t.Errorf("record = %+v", rec)
	}
}

func TestWrite_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		path    string
		body    string
		code    int
		errType string
	}{
		{"unknown stream", "/v1/streams/nope/writes", `{"bytes": 1}`, http.StatusNotFound, ErrorTypeUnknownStream},
		{"negative bytes", "/v1/streams/api/writes", `{"bytes": -1}`, http.StatusBadRequest, ErrorTypeInvalidRequest},
		{"missing bytes", "/v1/streams/api/writes", `{}`, http.StatusBadRequest, ErrorTypeInvalidRequest},
		{"not json", "/v1/streams/api/writes", `bytes=1`, http.StatusBadRequest, ErrorTypeInvalidRequest},
		{"unknown field", "/v1/streams/api/writes", `{"bytes": 1, "docs": 2}`, http.StatusBadRequest, ErrorTypeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.do(t, http.MethodPost, tt.path, tt.body), tt.code, tt.errType)
		})
	}
}

func TestRecordsAndActions(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/streams/api/writes", `{"bytes": 10}`)

	w := env.do(t, http.MethodGet, "/v1/streams/api/records", "")
	records := decode[RecordsResponse](t, w)
	if len(records.Records) != 1 || records.Records[0].SizeBytes != 10 {
		t.Errorf("records = %+v", records)
	}

	// Nothing due at t0.
	w = env.do(t, http.MethodGet, "/v1/streams/api/actions", "")
	if got := decode[ActionsResponse](t, w); len(got.Actions) != 0 || !got.At.Equal(t0) {
		t.Errorf("actions at t0 = %+v", got)
	}

	w = env.do(t, http.MethodGet, "/v1/streams/api/actions?at=2026-03-02T01:00:00Z", "")
	got := decode[ActionsResponse](t, w)
	want := []lifecycle.Action{{
		Kind: lifecycle.ActionRollOver, Stream: "api", Generation: 0, Reason: lifecycle.ReasonMaxAge,
	}}
	if diff := cmp.Diff(want, got.Actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}

	// Evaluation is a dry run.
	if records := env.store.ListRecords("api"); len(records) != 1 {
		t.Errorf("evaluation changed the store: %+v", records)
	}

	expectError(t, env.do(t, http.MethodGet, "/v1/streams/api/actions?at=tomorrow", ""),
		http.StatusBadRequest, ErrorTypeInvalidRequest)
	expectError(t, env.do(t, http.MethodGet, "/v1/streams/nope/actions", ""),
		http.StatusNotFound, ErrorTypeUnknownStream)

	w := env.do(t, http.MethodGet, "/v1/streams/nope/records", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unknown stream records status = %d: %s", w.Code, w.Body.String())
	}
	var empty RecordsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &empty); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if empty.Stream != "nope" || empty.Records == nil || len(empty.Records) != 0 {
		t.Errorf("unknown stream records = %+v, want an empty list", empty)
	}
	if !strings.Contains(w.Body.String(), `"records":[]`) {
		t.Errorf("records must encode as an empty array: %s", w.Body.String())
	}
}

func TestPolicies(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/v1/policies/web",
		`{"rollover_max_age": "1d", "rollover_max_size": "5GiB", "delete_min_age": "14d"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", w.Code, w.Body.String())
	}
	p, ok := env.store.Policy("web")
	if !ok || p.DeleteMinAge != 14*24*time.Hour || p.RolloverMaxSize != 5<<30 {
		t.Errorf("stored policy = %+v", p)
	}

	w = env.do(t, http.MethodGet, "/v1/policies", "")
	doc := decode[struct {
		Streams map[string]json.RawMessage `json:"streams"`
	}](t, w)
	if len(doc.Streams) != 2 {
		t.Errorf("policies = %v", doc.Streams)
	}

	w = env.do(t, http.MethodGet, "/v1/policies/web", "")
	if got := decode[PolicyResponse](t, w); got.Stream != "web" || got.DeleteMinAge != "14d" {
		t.Errorf("GET policy = %+v", got)
	}

	// Delete age must exceed the rollover age.
	expectError(t, env.do(t, http.MethodPut, "/v1/policies/web",
		`{"rollover_max_age": "7d", "rollover_max_size": "1GiB", "delete_min_age": "7d"}`),
		http.StatusBadRequest, ErrorTypeInvalidPolicy)
	expectError(t, env.do(t, http.MethodPut, "/v1/policies/web",
		`{"rollover_max_age": "soon", "rollover_max_size": "1GiB", "delete_min_age": "7d"}`),
		http.StatusBadRequest, ErrorTypeInvalidRequest)
	if p, _ := env.store.Policy("web"); p.DeleteMinAge != 14*24*time.Hour {
		t.Error("rejected update changed the stored policy")
	}

	if w := env.do(t, http.MethodDelete, "/v1/policies/web", ""); w.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", w.Code)
	}
	expectError(t, env.do(t, http.MethodDelete, "/v1/policies/web", ""),
		http.StatusNotFound, ErrorTypeUnknownStream)
	expectError(t, env.do(t, http.MethodGet, "/v1/policies/web", ""),
		http.StatusNotFound, ErrorTypeUnknownStream)
}

func TestRunCycleAndJournal(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/streams/api/writes", `{"bytes": 5000}`)
	env.now = t0.Add(time.Minute)

	w := env.do(t, http.MethodPost, "/v1/cycles", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	res := decode[CycleResponse](t, w)
	if res.Applied != 1 || res.Status != "success" || len(res.Entries) != 1 {
		t.Errorf("cycle = %+v", res)
	}

	w = env.do(t, http.MethodGet, "/v1/journal?stream=api&kind=rollover", "")
	page := decode[JournalResponse](t, w)
	if page.Total != 1 || len(page.Entries) != 1 || page.Entries[0].RunID != res.RunID {
		t.Errorf("journal = %+v", page)
	}

	w = env.do(t, http.MethodGet, "/v1/journal?stream=web", "")
	if page := decode[JournalResponse](t, w); page.Total != 0 {
		t.Errorf("journal for web = %+v", page)
	}

	expectError(t, env.do(t, http.MethodGet, "/v1/journal?limit=-1", ""),
		http.StatusBadRequest, ErrorTypeInvalidRequest)
	expectError(t, env.do(t, http.MethodGet, "/v1/journal?since=yesterday", ""),
		http.StatusBadRequest, ErrorTypeInvalidRequest)
}

func TestRunCycle_JoinsCallerTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := tracing.NewWithExporter(config.TracingConfig{Sampler: tracing.SamplerAlways}, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() failed: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	env := newTracedEnv(t, tracer)
	env.do(t, http.MethodPost, "/v1/streams/api/writes", `{"bytes": 5000}`)
	env.now = t0.Add(time.Minute)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/v1/cycles", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Trace-ID") != traceID {
		t.Errorf("X-Trace-ID = %q, want %q", w.Header().Get("X-Trace-ID"), traceID)
	}

	if err := tracer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	byName := make(map[string]tracetest.SpanStub)
	for _, s := range exporter.GetSpans() {
		byName[s.Name] = s
	}
	httpSpan, ok := byName["POST /v1/cycles"]
	if !ok {
		t.Fatalf("no request span in %v", slices.Collect(maps.Keys(byName)))
	}
	cycle, ok := byName["lifecycle.cycle"]
	if !ok {
		t.Fatal("no cycle span")
	}
	if cycle.SpanContext.TraceID().String() != traceID {
		t.Errorf("cycle trace = %s, want the caller's trace", cycle.SpanContext.TraceID())
	}
	if cycle.Parent.SpanID() != httpSpan.SpanContext.SpanID() {
		t.Error("cycle span is not a child of the request span")
	}
	if _, ok := byName["lifecycle.rollover"]; !ok {
		t.Error("no rollover span")
	}
}

func TestJournalDisabled(t *testing.T) {
	store := lifecycle.NewPolicyStore(lifecycle.WithLogger(logging.Discard()))
	m := manager.New(store, backend.NewNoop(logging.Discard()), manager.Config{}, manager.WithLogger(logging.Discard()))
	srv := New(&config.ServerConfig{}, m, WithLogger(logging.Discard()))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/journal", nil))
	expectError(t, w, http.StatusNotFound, ErrorTypeNotFound)

	// No metrics or health options: nothing mounted.
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("/metrics status = %d, want 404", w.Code)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/streams/api/writes", `{"bytes": 42}`)

	for _, path := range []string{"/health", "/ready", "/version"} {
		if w := env.do(t, http.MethodGet, path, ""); w.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ilm_writes_bytes_total") {
		t.Errorf("/metrics = %d\n%s", w.Code, w.Body.String())
	}

	expectError(t, env.do(t, http.MethodGet, "/v2/nothing", ""), http.StatusNotFound, ErrorTypeNotFound)
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/policies", "")
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("request ID header not set")
	}

	r := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	r.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("request ID = %q, want req-123", got)
	}

	panicky := recoverPanics(logging.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w = httptest.NewRecorder()
	panicky.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	expectError(t, w, http.StatusInternalServerError, ErrorTypeServerError)
}

func TestStartShutdown(t *testing.T) {
	store := lifecycle.NewPolicyStore(lifecycle.WithLogger(logging.Discard()))
	m := manager.New(store, backend.NewNoop(logging.Discard()), manager.Config{}, manager.WithLogger(logging.Discard()))
	srv := New(&config.ServerConfig{ListenAddress: "127.0.0.1:0", ShutdownTimeout: time.Second}, m,
		WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/v1/policies")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if srv.IsRunning() {
		t.Error("server still running after shutdown")
	}
}

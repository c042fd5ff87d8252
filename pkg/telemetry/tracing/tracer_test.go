package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/ilm/pkg/config"
)

const (
	remoteTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	traceparent   = "00-" + remoteTraceID + "-00f067aa0ba902b7-01"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(config.TracingConfig{Sampler: SamplerAlways, ServiceName: "ilm-test"}, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() failed: %v", err)
	}
	t.Cleanup(func() { tracer.Shutdown(context.Background()) })
	return tracer, exporter
}

func flush(t *testing.T, tracer *Tracer, exporter *tracetest.InMemoryExporter) tracetest.SpanStubs {
	t.Helper()
	if err := tracer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	return exporter.GetSpans()
}

func attr(stub tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range stub.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(context.Background(), config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if tracer.Enabled() {
		t.Error("disabled tracer reports enabled")
	}

	_, span := tracer.Start(context.Background(), "noop")
	if span.IsRecording() {
		t.Error("disabled tracer records spans")
	}
	span.End()

	if err := tracer.Flush(context.Background()); err != nil {
		t.Errorf("Flush() = %v", err)
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestNew_UnsupportedExporter(t *testing.T) {
	_, err := New(context.Background(), config.TracingConfig{Enabled: true, Exporter: "zipkin"}, "test")
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestTracer_ChildSpans(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	ctx, parent := tracer.Start(context.Background(), "lifecycle.cycle")
	_, child := tracer.Start(ctx, "lifecycle.delete")
	End(child, errors.New("backend down"))
	End(parent, nil)

	spans := flush(t, tracer, exporter)
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	// Children end first.
	c, p := spans[0], spans[1]
	if c.Name != "lifecycle.delete" || p.Name != "lifecycle.cycle" {
		t.Fatalf("span names = %q, %q", c.Name, p.Name)
	}
	if c.Parent.SpanID() != p.SpanContext.SpanID() || c.SpanContext.TraceID() != p.SpanContext.TraceID() {
		t.Error("child span is not linked to its parent")
	}
	if c.Status.Code != codes.Error || c.Status.Description != "backend down" {
		t.Errorf("child status = %+v", c.Status)
	}
	if len(c.Events) == 0 {
		t.Error("error not recorded as an event")
	}
	if p.Status.Code != codes.Unset {
		t.Errorf("parent status = %+v, want unset", p.Status)
	}

	var service string
	for _, kv := range p.Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "ilm-test" {
		t.Errorf("service.name = %q", service)
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{strategy: SamplerAlways},
		{strategy: SamplerNever},
		{strategy: SamplerRatio, ratio: 0.5},
		{strategy: "", ratio: 0},
		{strategy: SamplerRatio, ratio: 1.5, wantErr: true},
		{strategy: SamplerRatio, ratio: -0.1, wantErr: true},
		{strategy: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		_, err := newSampler(tt.strategy, tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("newSampler(%q, %g) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
		}
	}
}

func TestNeverSampler_FollowsSampledParent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(config.TracingConfig{Sampler: SamplerNever}, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() failed: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	_, root := tracer.Start(context.Background(), "root")
	if root.IsRecording() {
		t.Error("never sampler recorded a root span")
	}
	root.End()

	h := http.Header{}
	h.Set("traceparent", traceparent)
	_, child := tracer.Start(tracer.Extract(context.Background(), h), "child")
	if !child.IsRecording() {
		t.Error("span with a sampled remote parent was not recorded")
	}
	child.End()
}

func TestPropagation_RoundTrip(t *testing.T) {
	tracer := Disabled()

	in := http.Header{}
	in.Set("traceparent", traceparent)
	ctx := tracer.Extract(context.Background(), in)
	if got := TraceID(ctx); got != remoteTraceID {
		t.Fatalf("TraceID() = %q, want %q", got, remoteTraceID)
	}

	out := http.Header{}
	tracer.Inject(ctx, out)
	if out.Get("traceparent") != traceparent {
		t.Errorf("injected traceparent = %q, want %q", out.Get("traceparent"), traceparent)
	}

	if TraceID(context.Background()) != "" {
		t.Error("TraceID() without a span should be empty")
	}
}

func TestMiddleware(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	var inner trace.SpanContext
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/streams/{stream}/writes", func(w http.ResponseWriter, r *http.Request) {
		inner = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h := tracer.Middleware(mux)

	req := httptest.NewRequest(http.MethodPost, "/v1/streams/api/writes", nil)
	req.Header.Set("traceparent", traceparent)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("X-Trace-ID") != remoteTraceID {
		t.Errorf("X-Trace-ID = %q, want %q", w.Header().Get("X-Trace-ID"), remoteTraceID)
	}
	if inner.TraceID().String() != remoteTraceID {
		t.Errorf("handler saw trace %s, want the caller's trace", inner.TraceID())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	spans := flush(t, tracer, exporter)
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}

	write := spans[0]
	if write.Name != "POST /v1/streams/{stream}/writes" {
		t.Errorf("span name = %q", write.Name)
	}
	if write.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v", write.SpanKind)
	}
	if write.Parent.TraceID().String() != remoteTraceID || !write.Parent.IsRemote() {
		t.Errorf("span parent = %+v, want the remote caller", write.Parent)
	}
	if v, _ := attr(write, AttrHTTPStatus); v.AsInt64() != http.StatusNotFound {
		t.Errorf("status attribute = %v", v)
	}
	if write.Status.Code == codes.Error {
		t.Error("4xx must not mark the span as failed")
	}

	if boom := spans[1]; boom.Status.Code != codes.Error {
		t.Errorf("5xx span status = %+v, want error", boom.Status)
	}
}

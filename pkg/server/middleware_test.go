package server

import (
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(recorder),
	)
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	return recorder
}

func requestSpans(recorder *tracetest.SpanRecorder) []sdktrace.ReadOnlySpan {
	var spans []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.SpanKind() == trace.SpanKindServer {
			spans = append(spans, span)
		}
	}
	return spans
}

func TestTracingMiddleware_NamesSpanAfterRoute(t *testing.T) {
	recorder := setupSpanRecorder(t)
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	spans := requestSpans(recorder)
	if len(spans) != 1 {
		t.Fatalf("expected 1 server span, got %d", len(spans))
	}
	got := spans[0]

	if got.Name() != "GET /healthz" {
		t.Errorf("expected span name %q, got %q", "GET /healthz", got.Name())
	}

	attrs := make(map[attribute.Key]attribute.Value, len(got.Attributes()))
	for _, kv := range got.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if v := attrs["http.method"]; v.AsString() != http.MethodGet {
		t.Errorf("expected http.method GET, got %q", v.AsString())
	}
	if v := attrs["http.route"]; v.AsString() != "/healthz" {
		t.Errorf("expected http.route /healthz, got %q", v.AsString())
	}
	if v := attrs["http.status_code"]; v.AsInt64() != http.StatusOK {
		t.Errorf("expected http.status_code 200, got %d", v.AsInt64())
	}
}

func TestTracingMiddleware_MarksUnmatchedRoutes(t *testing.T) {
	recorder := setupSpanRecorder(t)
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/no/such/route", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	spans := requestSpans(recorder)
	if len(spans) != 1 {
		t.Fatalf("expected 1 server span, got %d", len(spans))
	}
	if spans[0].Name() != "GET unmatched" {
		t.Errorf("expected span name %q, got %q", "GET unmatched", spans[0].Name())
	}
}

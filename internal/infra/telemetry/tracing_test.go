package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func TestSamplerForClampsRate(t *testing.T) {
	cases := []struct {
		rate float64
		want sdktrace.Sampler
	}{
		{1, sdktrace.ParentBased(sdktrace.AlwaysSample())},
		{2.5, sdktrace.ParentBased(sdktrace.AlwaysSample())},
		{0, sdktrace.ParentBased(sdktrace.NeverSample())},
		{-1, sdktrace.ParentBased(sdktrace.NeverSample())},
		{0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25))},
	}

	for _, tc := range cases {
		if got := samplerFor(tc.rate).Description(); got != tc.want.Description() {
			t.Fatalf("samplerFor(%v) = %s, want %s", tc.rate, got, tc.want.Description())
		}
	}
}

func TestForceFlushExportsEndedSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := newTracerProvider(exporter, resource.Empty(), samplerFor(1), zaptest.NewLogger(t))

	_, span := tp.provider.Tracer("campus-auth/test").Start(context.Background(), "AuthService.Login")
	span.End()

	if got := len(exporter.GetSpans()); got != 0 {
		t.Fatalf("expected span held by the batcher, got %d exported", got)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush returned error: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "AuthService.Login" {
		t.Fatalf("expected the login span after flush, got %+v", spans)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

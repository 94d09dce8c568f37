package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/infra/config"
)

const (
	spanExportTimeout = 10 * time.Second
	spanBatchTimeout  = 5 * time.Second
	spanBatchSize     = 512
	shutdownBudget    = 10 * time.Second
)

// TracerProvider owns the SDK provider behind the global tracer that the auth
// service and the HTTP middleware start their spans from.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	logger   *zap.Logger
}

// NewTracerProvider exports spans over OTLP/HTTP and installs the provider and
// W3C propagators globally.
func NewTracerProvider(ctx context.Context, cfg config.TelemetrySettings, version, environment string, logger *zap.Logger) (*TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint),
		otlptracehttp.WithTimeout(spanExportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := newTracerProvider(exporter, res, samplerFor(cfg.SamplingRate), logger)

	otel.SetTracerProvider(tp.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracer provider initialized",
		zap.String("otlp_endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("environment", environment),
		zap.Float64("sampling_rate", cfg.SamplingRate),
	)

	return tp, nil
}

func newTracerProvider(exporter sdktrace.SpanExporter, res *resource.Resource, sampler sdktrace.Sampler, logger *zap.Logger) *TracerProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TracerProvider{
		provider: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter,
				sdktrace.WithBatchTimeout(spanBatchTimeout),
				sdktrace.WithMaxExportBatchSize(spanBatchSize),
			),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		),
		logger: logger,
	}
}

// samplerFor maps the configured rate onto a root sampler. A sampled parent
// from an upstream caller is always honoured.
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// ForceFlush exports every span ended so far while keeping the provider open.
func (tp *TracerProvider) ForceFlush(ctx context.Context) error {
	if err := tp.provider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("flush spans: %w", err)
	}
	return nil
}

// Shutdown stops the exporter. Spans still queued are exported first, within
// a fixed budget.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownBudget)
	defer cancel()

	if err := tp.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}

	tp.logger.Info("tracer provider stopped")
	return nil
}

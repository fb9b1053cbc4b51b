package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oriys/s3cache/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "s3cache"

// Provider wraps the OpenTelemetry TracerProvider
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var globalProvider = disabledProvider()

func disabledProvider() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer("")}
}

// Init sets up tracing from cfg.Tracing. Spans carry resource attributes
// naming the cache instance (backend, bucket and key prefix) so traces from
// several caches sharing a collector can be told apart.
func Init(ctx context.Context, cfg *config.Config) error {
	if !cfg.Tracing.Enabled {
		globalProvider = disabledProvider()
		return nil
	}
	exporter, err := newExporter(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	return InitWithExporter(ctx, cfg, exporter)
}

// InitWithExporter is Init with a caller-supplied span exporter.
func InitWithExporter(ctx context.Context, cfg *config.Config, exporter sdktrace.SpanExporter) error {
	res, err := resource.New(ctx, resource.WithAttributes(instanceAttributes(cfg)...))
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.Tracing.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	globalProvider = &Provider{
		tp:      tp,
		tracer:  tp.Tracer("github.com/oriys/s3cache"),
		enabled: true,
	}
	return nil
}

func instanceAttributes(cfg *config.Config) []attribute.KeyValue {
	name := cfg.Tracing.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	backend := cfg.Cache.Backend
	if backend == "" {
		backend = config.BackendS3
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		AttrBackend.String(backend),
	}
	if cfg.Cache.Bucket != "" {
		attrs = append(attrs, AttrBucket.String(cfg.Cache.Bucket))
	}
	if cfg.Cache.KeyPrefix != "" {
		attrs = append(attrs, AttrKeyPrefix.String(cfg.Cache.KeyPrefix))
	}
	if backend == config.BackendS3 && cfg.S3.Region != "" {
		attrs = append(attrs, semconv.CloudRegion(cfg.S3.Region))
	}
	return attrs
}

func newExporter(ctx context.Context, tc config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch tc.Exporter {
	case "otlp-http", "otlp", "":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(tc.Endpoint), otlptracehttp.WithInsecure()}
		if strings.Contains(tc.Endpoint, "://") {
			opts = []otlptracehttp.Option{otlptracehttp.WithEndpointURL(tc.Endpoint)}
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		return exp, nil
	case "none":
		// Spans are sampled and recorded but dropped on export.
		return tracetest.NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s", tc.Exporter)
	}
}

// sampler honours the parent's decision and samples root spans at rate.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans and falls back to the no-op tracer.
func Shutdown(ctx context.Context) error {
	p := globalProvider
	globalProvider = disabledProvider()
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	return globalProvider.tracer
}

// Enabled returns whether tracing is enabled
func Enabled() bool {
	return globalProvider.enabled
}

// Package telemetry configures OpenTelemetry tracing for turn execution.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	// ServiceName is the canonical telemetry service name.
	ServiceName = "steward"
	// DefaultEndpoint is used when no endpoint is configured.
	DefaultEndpoint = "http://localhost:4318"
	// BatchTimeout configures batch span processor flush interval.
	BatchTimeout = 5 * time.Second
)

// ServiceVersion is set at build time via ldflags when available.
var ServiceVersion = "dev"

var exporterFactory = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	return otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
}

// Init configures the global tracer provider with an OTLP HTTP exporter,
// falling back to a console exporter when the collector is unreachable.
// The returned function shuts the provider down.
func Init(ctx context.Context, endpoint string) (func(), error) {
	endpoint = resolveEndpoint(endpoint)
	exporter, err := exporterFactory(ctx, endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: OTLP exporter unavailable for %s (%v); using console exporter\n", endpoint, err)
		exporter = &stderrSpanExporter{out: os.Stderr}
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", resolveServiceVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(BatchTimeout)),
	)
	otel.SetTracerProvider(provider)

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), BatchTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				otel.Handle(err)
			}
		})
	}
	return shutdown, nil
}

func resolveEndpoint(configured string) string {
	if env := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); env != "" {
		return env
	}
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	return DefaultEndpoint
}

func resolveServiceVersion() string {
	version := strings.TrimSpace(ServiceVersion)
	if version == "" {
		return "dev"
	}
	return version
}

type stderrSpanExporter struct {
	out io.Writer
}

func (e *stderrSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e == nil || e.out == nil {
		return nil
	}
	for _, span := range spans {
		duration := span.EndTime().Sub(span.StartTime()).Round(time.Millisecond)
		if _, err := fmt.Fprintf(e.out, "[SPAN] %s %s %v\n", span.Name(), duration, span.Status().Code); err != nil {
			return err
		}
	}
	return nil
}

func (e *stderrSpanExporter) Shutdown(_ context.Context) error {
	return nil
}

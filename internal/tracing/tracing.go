// Package tracing installs an OpenTelemetry tracer provider that writes
// sync spans (cloud puts, secondary calls, pulls) as JSON.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/studysync/studysync/internal/logging"
)

// ServiceName identifies studysync spans.
const ServiceName = "studysync"

// Options configures Init.
type Options struct {
	Enabled bool
	// File receives spans. Empty means Writer, or stderr if Writer is nil.
	File   string
	Writer io.Writer
	// SampleRatio is the fraction of root spans kept, 0 to 1.
	SampleRatio float64
	Version     string
}

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a global tracer provider. With tracing disabled it changes
// nothing and returns a no-op Shutdown.
func Init(ctx context.Context, opts Options, log *logging.Logger) (Shutdown, error) {
	if !opts.Enabled {
		return noop, nil
	}
	log = logging.OrNop(log)

	w, closeOut, err := output(opts)
	if err != nil {
		return noop, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		closeOut()
		return noop, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(ServiceName),
		semconv.ServiceVersionKey.String(opts.Version),
		attribute.String("service.component", "reconcile"),
	))
	if err != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(opts.SampleRatio)))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Debug("otel tracing initialized", "file", opts.File, "ratio", opts.SampleRatio)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		closeOut()
		if err != nil {
			return fmt.Errorf("failed to flush traces: %w", err)
		}
		return nil
	}, nil
}

func output(opts Options) (io.Writer, func(), error) {
	if opts.File == "" {
		if opts.Writer != nil {
			return opts.Writer, func() {}, nil
		}
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

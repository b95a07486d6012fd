package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrUnknownExporter is returned for an unsupported OTEL_TRACES_EXPORTER value.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// TracingOptions selects how spans leave the process.
type TracingOptions struct {
	ServiceName string
	Environment string
	// Exporter is "none", "stdout" or "otlp".
	Exporter     string
	OTLPEndpoint string
}

// SetupTracing installs a global tracer provider. The returned function flushes
// and stops it. With Exporter "none" or empty the otel no-op provider stays in place.
func SetupTracing(ctx context.Context, opts TracingOptions) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Exporter)) {
	case "", "none":
		return noop, nil
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if opts.OTLPEndpoint != "" {
			clientOpts = append(clientOpts, otlptracegrpc.WithEndpoint(opts.OTLPEndpoint))
		}
		exporter, err = otlptracegrpc.New(ctx, clientOpts...)
	default:
		return noop, fmt.Errorf("%w: %s", ErrUnknownExporter, opts.Exporter)
	}
	if err != nil {
		return noop, fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", opts.ServiceName),
		attribute.String("deployment.environment", opts.Environment),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	Info("telemetry.tracing.enabled", map[string]any{"exporter": opts.Exporter})
	return tp.Shutdown, nil
}

// Package otel installs the process tracer provider. Spans originate in the
// request engine (httpx.perform) and the gin middleware; the exporter writes
// to the writer handed in so traces can be redirected or discarded.
package otel

import (
	"context"
	"io"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// EnvSampleRatio tunes head sampling; values outside [0,1] are ignored.
const EnvSampleRatio = "CAPRA_TRACE_SAMPLE_RATIO"

// InitTracer sets the global tracer provider. The returned shutdown flushes
// buffered spans and must run on process exit.
func InitTracer(serviceName string, logger *zap.Logger, w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, err
	}

	ratio := 1.0
	if raw := os.Getenv(EnvSampleRatio); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			ratio = v
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracer initialized",
		zap.String("service", serviceName),
		zap.Float64("sample_ratio", ratio),
	)
	return tp.Shutdown, nil
}

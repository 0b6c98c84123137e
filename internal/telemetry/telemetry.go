// Package telemetry sets up logging levels and optional OpenTelemetry
// tracing for the process.
package telemetry

import (
	"context"
	"fmt"

	"github.com/petervdpas/voyage/internal/config"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var log = logging.Logger("voyage/telemetry")

// SetupLogging applies the global level and then any per-subsystem
// overrides, e.g. {"voyage/agents": "debug"}.
func SetupLogging(cfg config.Log) error {
	lvl, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	logging.SetAllLoggers(lvl)

	for name, level := range cfg.Subsystems {
		if err := logging.SetLogLevel(name, level); err != nil {
			return fmt.Errorf("log level for %s: %w", name, err)
		}
	}
	return nil
}

// Setup initialises tracing. It is opt-in: with no OTLP endpoint configured
// it registers nothing and returns a no-op shutdown.
//
// The returned shutdown function flushes pending spans and should be
// deferred by the caller.
func Setup(ctx context.Context, cfg config.Telemetry) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if cfg.OTLPEndpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint),
	)
	if err != nil {
		return noop, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "voyage"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	log.Infof("tracing to %s as %s", cfg.OTLPEndpoint, name)

	return tp.Shutdown, nil
}

// Package telemetry configures OpenTelemetry tracing for the HTTP server and
// the SQL layer.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/Skryldev/socialhub/metrics"
)

const instrumentation = "github.com/Skryldev/socialhub"

// Config configures Init.
type Config struct {
	ServiceName string
	// Endpoint is the OTLP/HTTP collector (host:port). Empty keeps spans
	// in-process only.
	Endpoint string
	Insecure bool
	Logger   *slog.Logger
}

// Init installs the global tracer provider and propagator. The returned
// func flushes and stops the provider.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "socialhub"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", name),
	))
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		exOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exOpts = append(exOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exOpts...)
		if err != nil {
			logger.Warn("telemetry: exporter disabled", "error", err)
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// HTTPHandler instruments inbound requests with one server span each.
func HTTPHandler(next http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(next, operation)
}

// ─────────────────────────────────────────────────────────────────────────────
// SQL spans (db.Tracer)
// ─────────────────────────────────────────────────────────────────────────────

// DBTracer opens one client span per SQL statement.
type DBTracer struct {
	tracer trace.Tracer
	system string
}

// NewDBTracer returns a tracer for the named database system ("sqlite",
// "postgresql", "mysql"). A nil provider means the global one.
func NewDBTracer(tp trace.TracerProvider, system string) *DBTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &DBTracer{tracer: tp.Tracer(instrumentation), system: system}
}

// StartSpan implements db.Tracer.
func (t *DBTracer) StartSpan(ctx context.Context, query string, start time.Time) context.Context {
	verb := metrics.Verb(query)
	ctx, _ = t.tracer.Start(ctx, "db "+verb,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.operation", verb),
			attribute.String("db.statement", query),
		),
	)
	return ctx
}

// EndSpan implements db.Tracer.
func (t *DBTracer) EndSpan(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// System maps a database/sql driver name to its tracing system name.
func System(driverName string) string {
	switch driverName {
	case "postgres", "pgx":
		return "postgresql"
	case "mysql":
		return "mysql"
	case "sqlite3":
		return "sqlite"
	}
	return driverName
}

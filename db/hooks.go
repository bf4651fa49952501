package db

import (
	"context"
	"log/slog"
	"time"
)

// Hook observes statements. BeforeQuery may return a derived context, e.g.
// one carrying a span; the statement and AfterQuery run with it.
//
// Hooks must be safe for concurrent use. A panicking hook is logged and
// skipped; it never fails the statement.
type Hook interface {
	BeforeQuery(ctx context.Context, query string, args []any) context.Context
	// AfterQuery receives the mapped error, nil on success.
	AfterQuery(ctx context.Context, query string, args []any, d time.Duration, err error)
}

// ─────────────────────────────────────────────────────────────────────────────
// hookChain
// ─────────────────────────────────────────────────────────────────────────────

type hookChain []Hook

func newHookChain(hooks []Hook) hookChain {
	var c hookChain
	for _, h := range hooks {
		if h != nil {
			c = append(c, h)
		}
	}
	return c
}

// around runs fn between the Before and After calls of every hook. After
// runs in reverse order so the first hook sees the whole call.
func (c hookChain) around(ctx context.Context, query string, args []any, fn func(context.Context) error) error {
	for _, h := range c {
		ctx = c.before(h, ctx, query, args)
	}
	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	for i := len(c) - 1; i >= 0; i-- {
		c.after(c[i], ctx, query, args, d, err)
	}
	return err
}

func (hookChain) before(h Hook, ctx context.Context, query string, args []any) (out context.Context) {
	out = ctx
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "socialhub/db: hook panicked", "phase", "before", "panic", r)
			out = ctx
		}
	}()
	if next := h.BeforeQuery(ctx, query, args); next != nil {
		out = next
	}
	return out
}

func (hookChain) after(h Hook, ctx context.Context, query string, args []any, d time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "socialhub/db: hook panicked", "phase", "after", "panic", r)
		}
	}()
	h.AfterQuery(ctx, query, args, d, err)
}

// afterHook adapts an AfterQuery-only observer.
type afterHook func(ctx context.Context, query string, args []any, d time.Duration, err error)

func (afterHook) BeforeQuery(ctx context.Context, _ string, _ []any) context.Context { return ctx }
func (f afterHook) AfterQuery(ctx context.Context, query string, args []any, d time.Duration, err error) {
	f(ctx, query, args, d, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Logging
// ─────────────────────────────────────────────────────────────────────────────

// LogHookConfig configures NewLogHook.
type LogHookConfig struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// SlowQueryThreshold promotes statements slower than this to warnings.
	// Zero disables it.
	SlowQueryThreshold time.Duration
	// LogArgs adds bound values to every entry. Values include password
	// hashes and emails; keep it off outside tests.
	LogArgs bool
}

// NewLogHook logs failures at error, slow statements at warn and the rest
// at debug.
func NewLogHook(cfg LogHookConfig) Hook {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return afterHook(func(ctx context.Context, query string, args []any, d time.Duration, err error) {
		attrs := []slog.Attr{
			slog.String("query", trimQuery(query)),
			slog.Duration("duration", d),
		}
		if cfg.LogArgs && len(args) > 0 {
			attrs = append(attrs, slog.Any("args", args))
		}
		switch {
		case err != nil && !IsNotFound(err):
			logger.LogAttrs(ctx, slog.LevelError, "socialhub/db: statement failed", append(attrs, slog.Any("error", err))...)
		case cfg.SlowQueryThreshold > 0 && d > cfg.SlowQueryThreshold:
			logger.LogAttrs(ctx, slog.LevelWarn, "socialhub/db: slow statement", attrs...)
		default:
			logger.LogAttrs(ctx, slog.LevelDebug, "socialhub/db: statement", attrs...)
		}
	})
}

func trimQuery(q string) string {
	const limit = 500
	if len(q) > limit {
		return q[:limit] + "…"
	}
	return q
}

// ─────────────────────────────────────────────────────────────────────────────
// Metrics
// ─────────────────────────────────────────────────────────────────────────────

// MetricsCollector receives one observation per statement. The metrics
// package provides the Prometheus implementation.
type MetricsCollector interface {
	RecordQuery(query string, d time.Duration, success bool)
}

// NewMetricsHook reports every statement to c. A miss from QueryRow counts
// as a success.
func NewMetricsHook(c MetricsCollector) Hook {
	return afterHook(func(_ context.Context, query string, _ []any, d time.Duration, err error) {
		c.RecordQuery(query, d, err == nil || IsNotFound(err))
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Tracing
// ─────────────────────────────────────────────────────────────────────────────

// Tracer records one span per statement. The telemetry package provides the
// OpenTelemetry implementation.
type Tracer interface {
	// StartSpan opens a span that began at start and returns a context
	// carrying it.
	StartSpan(ctx context.Context, query string, start time.Time) context.Context
	// EndSpan finishes the span carried by ctx.
	EndSpan(ctx context.Context, err error)
}

// NewTracingHook opens a span in BeforeQuery and ends it in AfterQuery.
func NewTracingHook(t Tracer) Hook { return tracingHook{t: t} }

type tracingHook struct{ t Tracer }

func (h tracingHook) BeforeQuery(ctx context.Context, query string, _ []any) context.Context {
	return h.t.StartSpan(ctx, query, time.Now())
}

func (h tracingHook) AfterQuery(ctx context.Context, _ string, _ []any, _ time.Duration, err error) {
	h.t.EndSpan(ctx, err)
}

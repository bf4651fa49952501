// Package router maps URL paths to resource endpoints and renders every
// outcome, success or failure, as a JSON envelope.
//
// Each request flows through the same steps: method gate, request parsing,
// parameter gate, endpoint. A failure at any step is rendered as
// {"message": "..."} with the status class of its apierr sentinel.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/gate"
	"github.com/Skryldev/socialhub/metrics"
	"github.com/Skryldev/socialhub/ratelimit"
	"github.com/Skryldev/socialhub/request"
	"github.com/Skryldev/socialhub/resource"
	"github.com/Skryldev/socialhub/telemetry"
)

// Endpoints resolves a route name. *resource.Service satisfies it.
type Endpoints interface {
	Lookup(route string) (resource.Endpoint, bool)
}

// Config wires the router. Only Endpoints is required.
type Config struct {
	Endpoints Endpoints

	// Metrics enables /metrics and request instrumentation.
	Metrics *metrics.Metrics
	// Limiter enables per-client rate limiting.
	Limiter ratelimit.Limiter
	// Files is mounted under /files/ when set.
	Files http.Handler
	// Ready backs /healthz. Nil always reports ready.
	Ready func(ctx context.Context) error

	// Origins are the CORS origins allowed; "*" allows any. Empty disables
	// CORS headers.
	Origins []string
	// MaxBody bounds JSON and form bodies. Defaults to request.DefaultMaxBody.
	MaxBody int64
	// MaxUpload bounds multipart bodies. Defaults to
	// request.DefaultMaxMultipart.
	MaxUpload int64
	// Tracing wraps the handler with an OpenTelemetry server span.
	Tracing     bool
	ServiceName string

	Logger *slog.Logger
}

// NotFoundMessage is returned for any path that names no endpoint.
const NotFoundMessage = "check your url and try again"

type router struct {
	cfg    Config
	logger *slog.Logger
}

// New returns the complete HTTP handler, middleware included.
func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rt := &router{cfg: cfg, logger: cfg.Logger}

	m := mux.NewRouter()
	m.HandleFunc("/healthz", rt.healthz)
	if cfg.Metrics != nil {
		m.Handle("/metrics", cfg.Metrics.Handler())
	}
	if cfg.Files != nil {
		m.PathPrefix("/files/").Handler(http.StripPrefix("/files", cfg.Files))
	}
	m.HandleFunc("/", rt.serve)
	m.HandleFunc("/{resource}", rt.serve)
	m.HandleFunc("/{resource}/", rt.serve)
	m.NotFoundHandler = http.HandlerFunc(rt.notFound)

	var h http.Handler = m
	if cfg.Limiter != nil {
		h = rateLimit(cfg.Limiter, cfg.Metrics, rt.writeError)(h)
	}
	if cfg.Metrics != nil {
		h = instrument(cfg.Metrics)(h)
	}
	if len(cfg.Origins) > 0 {
		h = cors(cfg.Origins)(h)
	}
	h = recoverer(rt.logger, rt.writeError)(h)
	h = requestLog(rt.logger)(h)
	if cfg.Tracing {
		h = telemetry.HTTPHandler(h, cfg.ServiceName)
	}
	return h
}

// ─────────────────────────────────────────────────────────────────────────────
// Endpoint dispatch
// ─────────────────────────────────────────────────────────────────────────────

func (rt *router) serve(w http.ResponseWriter, r *http.Request) {
	route := strings.ToLower(mux.Vars(r)["resource"])
	ep, ok := rt.cfg.Endpoints.Lookup(route)
	if !ok {
		rt.notFound(w, r)
		return
	}

	if err := gate.CheckMethod(r.Method, ep.Methods()); err != nil {
		w.Header().Set("Allow", strings.Join(ep.Methods(), ", "))
		rt.writeError(w, r, err)
		return
	}

	req, err := request.FromHTTP(r, route, request.Limits{Body: rt.cfg.MaxBody, Multipart: rt.cfg.MaxUpload})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if params := ep.Params(); params != nil {
		if err := gate.CheckParams(req.Record.Keys(), params); err != nil {
			rt.writeError(w, r, err)
			return
		}
	}

	resp, err := ep.Serve(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

func (rt *router) notFound(w http.ResponseWriter, r *http.Request) {
	rt.writeError(w, r, apierr.New(apierr.ErrNotFound, NotFoundMessage))
}

func (rt *router) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.cfg.Ready(ctx); err != nil {
			rt.logger.WarnContext(r.Context(), "router: not ready", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, resource.Message("unavailable"))
			return
		}
	}
	writeJSON(w, http.StatusOK, resource.Message("ok"))
}

// ─────────────────────────────────────────────────────────────────────────────
// Rendering
// ─────────────────────────────────────────────────────────────────────────────

// writeError renders err as an envelope. Server faults are logged with their
// cause; the client only ever sees the sentinel's public message.
func (rt *router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.Status(err)
	if status >= http.StatusInternalServerError {
		rt.logger.ErrorContext(r.Context(), "router: request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	}
	writeJSON(w, status, resource.Message(apierr.Message(err)))
}

func writeJSON(w http.ResponseWriter, status int, body resource.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

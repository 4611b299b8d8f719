// Package server implements the HTTP transport layer for the Warden gateway.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/provider"
	"github.com/eugener/warden/internal/respond"
	"github.com/eugener/warden/internal/storage"
	"github.com/eugener/warden/internal/telemetry"
)

// ErrShuttingDown is the cancellation cause set on the server's base context
// during graceful shutdown. Streaming handlers use it to attribute stream
// termination to shutdown rather than a client disconnect.
var ErrShuttingDown = errors.New("server shutting down")

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// StreamRecorder records stream audit records asynchronously.
type StreamRecorder interface {
	Record(warden.StreamRecord)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Providers  *provider.Registry
	Store      storage.StreamStore // nil = audit queries return 404
	ReadyCheck ReadyChecker        // nil = always ready (for tests)
	Recorder   StreamRecorder      // nil = no stream auditing
	Metrics    *telemetry.Metrics  // nil = no metrics
	// MetricsHandler serves the Prometheus scrape endpoint at /metrics
	// (nil = endpoint not mounted).
	MetricsHandler http.Handler
	Cache          cache.Cache  // nil = no caching
	Logger         *slog.Logger // nil = slog.Default

	// KeepAliveInterval is the period between SSE comment frames on idle
	// streams (0 disables keep-alives).
	KeepAliveInterval time.Duration
	// MaxStreamDuration is the hard cap on a single stream (0 = no cap).
	MaxStreamDuration time.Duration
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps, log: deps.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}
	if deps.Metrics != nil {
		s.observer = telemetry.NewGuardObserver(deps.Metrics)
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Client-facing API -- universal OpenAI-format
	r.Post("/v1/chat/completions", s.handleChatCompletion)
	r.Get("/v1/models", s.handleListModels)

	// Operational endpoints
	r.Get("/admin/v1/streams", s.handleListStreams)
	r.Post("/admin/v1/cache/purge", s.handleCachePurge)

	return r
}

type server struct {
	deps     Deps
	log      *slog.Logger
	observer respond.Observer
}

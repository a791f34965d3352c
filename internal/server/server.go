package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
	"github.com/alanyoungcy/bidindex/internal/server/handler"
	"github.com/alanyoungcy/bidindex/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeys maps keys to application names. If empty, the admin routes
	// are open.
	APIKeys         map[string]string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health       *handler.HealthHandler
	Tokens       *handler.TokenHandler
	ReceivedBids *handler.ReceivedBidsHandler
	Queues       *handler.QueueHandler
	Collections  *handler.CollectionHandler
}

// Server is the HTTP API server for the bid index.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Public routes are rate limited per client IP when limiter is non-nil and
// cfg.RateLimit is positive. Admin routes require a known API key.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, metrics *observability.Metrics, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	public := func(h http.HandlerFunc) http.Handler { return h }
	if limiter != nil && cfg.RateLimit > 0 {
		limit := middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)
		public = func(h http.HandlerFunc) http.Handler { return limit(h) }
	}
	requireKey := middleware.RequireAPIKey(cfg.APIKeys)
	admin := func(h http.HandlerFunc) http.Handler { return requireKey(h) }

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("POST /tokens/flag/v1", public(handlers.Tokens.SetFlag))
	mux.Handle("GET /users/{address}/received-bids", public(handlers.ReceivedBids.List))

	mux.Handle("POST /admin/orders/received-bids", admin(handlers.ReceivedBids.PropagateBulk))
	mux.Handle("POST /admin/orders/{id}/received-bids", admin(handlers.ReceivedBids.Propagate))
	mux.Handle("GET /admin/queues/{queue}/jobs", admin(handlers.Queues.ListJobs))
	mux.Handle("GET /admin/queues/{queue}/stats", admin(handlers.Queues.Stats))
	mux.Handle("POST /admin/queues/{queue}/jobs/{id}/retry", admin(handlers.Queues.Retry))
	mux.Handle("POST /admin/collections/{id}/reindex", admin(handlers.Collections.Reindex))

	// Logging wraps the mux directly so it sees the matched pattern.
	var h http.Handler = mux
	h = middleware.Logging(logger, metrics)(h)
	h = middleware.Identify(cfg.APIKeys)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Package server provides the HTTP server setup and wiring for the run history API.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/contraverify/internal/auth"
	"github.com/pendergraft/contraverify/internal/middleware/ratelimit"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/verification/transport"
)

// Server is the HTTP server
type Server struct {
	logger  *slog.Logger
	router  *chi.Mux
	runs    transport.Service
	keys    *auth.KeySet
	limiter *ratelimit.RateLimiter
}

// Option configures a Server
type Option func(*Server)

// WithAPIKeys requires one of keys on /api/v1 routes.
func WithAPIKeys(keys *auth.KeySet) Option {
	return func(s *Server) {
		s.keys = keys
	}
}

// WithRateLimiter limits /api/v1 requests per client. The caller owns the
// limiter and stops it.
func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

// New creates a new server reading from the run ledger
func New(runs transport.Service, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		logger: logger,
		router: chi.NewRouter(),
		runs:   runs,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler serves only /metrics, for the listener a verify run opens.
func MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})
	return r
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(NewLoggingMiddleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})

	runsHandler := transport.NewHandler(s.runs)

	// Health and metrics stay open; the API is limited then authenticated
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware())
		r.Use(auth.Middleware(s.keys, writeError))
		runsHandler.RegisterRoutes(r)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// Package api provides the HTTP API server for the generation service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/forge/internal/api/handlers"
	"github.com/narvanalabs/forge/internal/api/health"
	"github.com/narvanalabs/forge/internal/api/middleware"
	"github.com/narvanalabs/forge/internal/auth"
	"github.com/narvanalabs/forge/internal/events"
	"github.com/narvanalabs/forge/internal/ledger"
	"github.com/narvanalabs/forge/internal/queue"
	"github.com/narvanalabs/forge/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	ledger        ledger.Ledger
	queue         queue.Queue
	broker        *events.Broker
	auth          *auth.Service
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies. The
// pinger may be nil when no database backs the ledger.
func NewServer(cfg *config.Config, l ledger.Ledger, q queue.Queue, broker *events.Broker, authSvc *auth.Service, pinger health.Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		ledger: l,
		queue:  q,
		broker: broker,
		auth:   authSvc,
		config: cfg,
		logger: logger,
	}

	s.healthChecker = health.NewChecker(pinger, Version)
	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	// Health check endpoint (no auth required)
	r.Get("/health", s.healthChecker.Handler())

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		authMiddleware := middleware.NewAuthMiddleware(s.auth, s.config.APIKeyHeader, s.logger)
		r.Use(authMiddleware.Authenticate)

		r.Get("/auth/validate", func(w http.ResponseWriter, r *http.Request) {
			userID := middleware.GetUserID(r.Context())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok","user_id":"` + userID + `"}`))
		})

		jobsHandler := handlers.NewJobsHandler(s.ledger, s.queue, s.logger)
		eventsHandler := handlers.NewEventStreamHandler(s.broker, s.logger)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobsHandler.Create)
			r.Get("/", jobsHandler.List)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", jobsHandler.Get)
				r.Post("/cancel", jobsHandler.Cancel)
				// SSE stream; no request timeout applies here.
				r.Get("/events", eventsHandler.Stream)
			})
		})
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}

// Package http wires the admission pipeline and session API into a chi
// HTTP server. The middleware order is load-bearing: device identity and
// auth must resolve before admission, and the local overload guard runs
// before anything that touches the shared store.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tourwise/gatekeeper/internal/admission"
	"github.com/tourwise/gatekeeper/internal/config"
	"github.com/tourwise/gatekeeper/internal/infra/http/handler"
	"github.com/tourwise/gatekeeper/internal/infra/http/middleware"
	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/jwt"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// Deps are the collaborators the server composes.
type Deps struct {
	Pipeline *admission.Pipeline
	Sessions *session.Manager
	Tokens   *jwt.Manager

	// Store is pinged by the readiness probe; nil in memory mode.
	Store handler.Pinger

	Version string
}

// Server is the HTTP server for the admission gateway.
type Server struct {
	httpServer   *http.Server
	router       chi.Router
	config       *config.Config
	logger       *logger.Logger
	cleanupFuncs []func()
}

// NewServer creates the server with all middleware and routes wired.
func NewServer(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	s := &Server{
		config: cfg,
		logger: log,
		router: chi.NewRouter(),
	}

	overloadMw, overloadStop := middleware.OverloadGuardWithStop(&cfg.Overload, log)
	s.cleanupFuncs = append(s.cleanupFuncs, overloadStop)

	s.router.Use(
		middleware.RecoveryWithConfig(log, cfg.IsProduction()),
		middleware.RequestID(),
		middleware.DeviceIdentity(),
		middleware.BodyLimit(cfg.Server.MaxBodySize),
		overloadMw,
		middleware.Auth(deps.Tokens, log),
		middleware.Admission(deps.Pipeline, middleware.DefaultAdmissionConfig(), log),
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.Metrics(),
		middleware.Logger(log),
	)

	s.registerRoutes(deps)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	return s
}

func (s *Server) registerRoutes(deps Deps) {
	healthHandler := handler.NewHealthHandler(deps.Store, deps.Version)
	s.router.Get("/health", healthHandler.Health)
	s.router.Get("/ready", healthHandler.Ready)
	s.router.Handle("/metrics", promhttp.Handler())

	sessionHandler := handler.NewSessionHandler(deps.Sessions, s.logger)
	s.router.Route("/api/v1/sessions", func(r chi.Router) {
		// Creation is authorized by the bearer token alone; managing
		// existing sessions additionally requires presenting a live one,
		// which lets the listing mark the caller's current session.
		r.Post("/", sessionHandler.Create)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(deps.Sessions, s.logger))
			r.Get("/", sessionHandler.List)
			r.Delete("/", sessionHandler.RevokeAll)
			r.Delete("/{id}", sessionHandler.Revoke)
		})
	})
}

// Router returns the router for registering additional handlers.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.config.Server.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

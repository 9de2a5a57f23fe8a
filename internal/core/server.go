// Package core provides the HTTP chassis for the SoilWatch service. It
// builds a chi router and enforces cross-cutting concerns -- panic
// recovery, request correlation, logging, rate limiting -- before
// requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"soilwatch/internal/config"
	"soilwatch/internal/ratelimit"
)

// RouteRegistrar mounts a group of domain routes on the router. The
// entry point populates Server.RouteRegistrars with handler-package
// registrars; this indirection keeps core free of handler imports.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the HTTP-facing dependencies of the service,
// allowing injection during testing and distinct wiring per
// environment.
type Server struct {
	Config  *config.Config
	Logger  *slog.Logger
	Limiter *ratelimit.Limiter

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// RouteRegistrars mount the domain endpoints.
	RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer validates critical dependencies and prepares the router.
// The caller mounts routes afterwards via MountRoutes; the separation
// lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server-owned resources. The HTTP listener itself
// is drained by the entry point before this is called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.Limiter != nil {
		s.Limiter.Close()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}

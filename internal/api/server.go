// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the engine-instance HTTP surface.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/enginemgr/internal/api/middleware"
	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/domain/session/service"
)

// SessionService is the session lifecycle the handlers drive.
type SessionService interface {
	GetOrCreate(ctx context.Context, caseNumber string) (*model.InstanceRecord, error)
	Delete(ctx context.Context, caseNumber string) error
	AddCollaborator(ctx context.Context, caseNumber, collaboratorUserID string) error
}

// Prober serves the liveness and readiness endpoints.
type Prober interface {
	ServeHealth(w http.ResponseWriter, r *http.Request)
	ServeReady(w http.ResponseWriter, r *http.Request)
}

// Config controls the HTTP surface.
type Config struct {
	// UserHeader carries the caller's user ID. Defaults to X-User-ID.
	UserHeader string
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit int
	// TracingService names HTTP spans. Empty disables HTTP tracing.
	TracingService string
	// AccessLog enables one log line per request.
	AccessLog bool
}

// Server routes HTTP requests to the session service.
type Server struct {
	sessions SessionService
	probes   Prober
	cfg      Config
	router   chi.Router
}

// New builds the router with the canonical middleware stack.
func New(sessions SessionService, probes Prober, cfg Config) *Server {
	if cfg.UserHeader == "" {
		cfg.UserHeader = "X-User-ID"
	}
	s := &Server{sessions: sessions, probes: probes, cfg: cfg}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  s.cfg.AccessLog,
		RateLimit:      s.cfg.RateLimit,
	})

	r.Get("/healthz", s.probes.ServeHealth)
	r.Get("/readyz", s.probes.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/engine-instances/{caseNumber}", func(r chi.Router) {
		r.Use(s.identity)
		r.Get("/", s.handleGetOrCreate)
		r.Delete("/", s.handleDelete)
		r.Post("/delete", s.handleDelete)
		r.Put("/collaborators", s.handleAddCollaborator)
	})
	return r
}

// identity copies the configured user header into the request context.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get(s.cfg.UserHeader); userID != "" {
			r = r.WithContext(service.ContextWithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

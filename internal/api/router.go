// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/claviger-project/claviger/internal/audit"
	"github.com/claviger-project/claviger/internal/auth"
	"github.com/claviger-project/claviger/internal/authz"
	"github.com/claviger-project/claviger/internal/breaker"
	"github.com/claviger-project/claviger/internal/cache"
	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/store"
)

// Deps carries everything the HTTP surface needs. Engine is required; the
// rest degrade gracefully: a nil AuditStore turns the decisions endpoint
// into a 503, a nil Suspensions does the same for the suspension routes,
// and nil DB/Cache simply drop those readiness checks.
type Deps struct {
	Engine      *authz.Engine
	AuditStore  audit.Store
	Audit       AuditRecorder
	Suspensions *auth.SuspensionManager
	DB          *store.DB
	Cache       *cache.TieredCache
	Breakers    []*breaker.Breaker
}

// AuditRecorder receives audit events for administrative actions taken
// through the HTTP surface. *audit.Emitter satisfies it.
type AuditRecorder interface {
	Emit(e *audit.Event)
}

// Router wires handlers, middleware, and dependencies into one http.Handler.
type Router struct {
	cfg       *config.Config
	deps      Deps
	startTime time.Time
}

// NewRouter validates dependencies and returns a Router ready for Handler().
func NewRouter(cfg *config.Config, deps Deps) (*Router, error) {
	if cfg == nil {
		return nil, fmt.Errorf("api: config is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("api: engine is required")
	}

	return &Router{
		cfg:       cfg,
		deps:      deps,
		startTime: time.Now(),
	}, nil
}

// Handler builds the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(SecurityHeaders())
	r.Use(CORSHandler(rt.cfg.Server.CORSOrigins))

	// Probes and metrics sit outside the pre-limit so monitoring keeps
	// working while the service sheds load.
	r.Get("/healthz", rt.handleHealthz)
	r.Get("/readyz", rt.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(IPPreLimit(rt.cfg.Server.RequestsPerMinute))

		r.Post("/authorize", rt.handleAuthorize)
		r.Get("/decisions", rt.handleDecisions)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(rt.cfg.Admin.TokenHash))

			r.Post("/invalidate", rt.handleInvalidate)
			r.Get("/suspensions", rt.handleListSuspensions)
			r.Delete("/suspensions/{subject}", rt.handleLiftSuspension)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).NotFound("Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	return r
}

// NewHTTPServer builds the http.Server the supervisor runs.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

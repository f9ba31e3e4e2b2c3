// Package api exposes the HTTP surface: study-guide generation, content
// ingestion, account and history management, and the billing webhook.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/archive"
	"github.com/kerna-app/kerna/pkg/auth"
	"github.com/kerna-app/kerna/pkg/billing"
	"github.com/kerna-app/kerna/pkg/extract"
	"github.com/kerna-app/kerna/pkg/generate"
	"github.com/kerna-app/kerna/pkg/ledger"
	"github.com/kerna-app/kerna/pkg/middleware"
	"github.com/kerna-app/kerna/pkg/notify"
	"github.com/kerna-app/kerna/pkg/observability"
	"github.com/kerna-app/kerna/pkg/plans"
)

// Deps wires the server's collaborators. Optional fields (OIDC, Archive,
// GenLimiter, Metrics, Health) may be nil and their routes or behavior
// are skipped.
type Deps struct {
	Ledger     ledger.Service
	Runner     *generate.Runner
	Catalogs   *plans.Provider
	Auth       *auth.Service
	OIDC       *auth.OIDCClient
	Billing    *billing.Handler
	Scraper    *extract.Scraper
	Archive    archive.Store
	Notifier   notify.Notifier
	Sessions   *middleware.SessionMiddleware
	GenLimiter *middleware.DistributedRateLimiter
	Metrics    *observability.Metrics
	Health     *observability.HealthChecker
	Logger     *logrus.Logger
}

// Server is the Kerna API server
type Server struct {
	router *mux.Router
	deps   Deps
	logger *logrus.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		logger: deps.Logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	if s.deps.Health != nil {
		s.router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()

	// Public routes
	api.HandleFunc("/plans", s.listPlans).Methods("GET")
	api.HandleFunc("/billing/webhook", s.handleBillingWebhook).Methods("POST")
	s.registerAuthRoutes(api)

	// Authenticated routes
	authed := api.NewRoute().Subrouter()
	authed.Use(s.deps.Sessions.Require)
	authed.HandleFunc("/me", s.handleMe).Methods("GET")
	authed.HandleFunc("/history", s.listHistory).Methods("GET")
	authed.HandleFunc("/history/{id}", s.deleteHistory).Methods("DELETE")
	authed.HandleFunc("/feedback", s.handleFeedback).Methods("POST")

	// Generation routes carry the stricter per-user rate limit. The
	// limiter runs after session auth so it can key by user ID.
	gen := api.NewRoute().Subrouter()
	gen.Use(s.deps.Sessions.Require)
	if s.deps.GenLimiter != nil {
		gen.Use(s.deps.GenLimiter.Handler)
	}
	gen.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	gen.HandleFunc("/upload", s.handleUpload).Methods("POST")
	gen.HandleFunc("/scrape", s.handleScrape).Methods("POST")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so the main binary can mount the
// metrics endpoint on it
func (s *Server) Router() *mux.Router {
	return s.router
}

// Package api implements the dialer engine's control HTTP surface, per
// spec.md §6: campaign lifecycle, preview actions, call/agent snapshots,
// and health, fronted by the same chi router + middleware stack shape the
// teacher uses for its admin API (internal/api/server.go).
package api

import (
	"log/slog"
	"net/http"

	"github.com/flowdial/dialer/internal/api/middleware"
	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/manager"
	"github.com/flowdial/dialer/internal/switchdriver"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	manager *manager.Manager
	calls   *callservice.CallService
	driver  switchdriver.Driver
	logger  *slog.Logger
}

// Options configures the parts of NewServer that aren't core domain
// dependencies.
type Options struct {
	CORSOrigins []string
	// AuthSecret enables bearer-token auth on mutating routes when non-nil,
	// per spec.md §6's optional auth note.
	AuthSecret []byte
	RateLimit  *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(mgr *manager.Manager, calls *callservice.CallService, driver switchdriver.Driver, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		manager: mgr,
		calls:   calls,
		driver:  driver,
		logger:  logger.With("component", "api"),
	}
	s.routes(opts)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups, in the
// teacher's order: request ID -> real IP -> security headers -> CORS ->
// structured logger -> recoverer -> (optional) rate limit, per
// SPEC_FULL.md §6's expansion.
func (s *Server) routes(opts Options) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	if opts.RateLimit != nil {
		r.Use(middleware.RateLimit(opts.RateLimit))
	}

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/campaigns", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireServiceAuth(opts.AuthSecret))
			r.Post("/start", s.handleCampaignStart)
			r.Post("/stop", s.handleCampaignStop)
		})
		r.Get("/active", s.handleCampaignsActive)
		r.Get("/{id}/status", s.handleCampaignStatus)
		r.Get("/{id}/calls", s.handleCampaignCalls)
	})

	r.Route("/api/v1/preview", func(r chi.Router) {
		r.Use(middleware.RequireServiceAuth(opts.AuthSecret))
		r.Post("/request", s.handlePreviewRequest)
		r.Post("/accept", s.handlePreviewAccept)
		r.Post("/reject", s.handlePreviewReject)
		r.Post("/skip", s.handlePreviewSkip)
	})

	r.Route("/api/v1/calls", func(r chi.Router) {
		r.Get("/active", s.handleCallsActive)
		r.Get("/{id}", s.handleCallByID)
	})

	r.Route("/api/v1/agents", func(r chi.Router) {
		r.With(middleware.RequireServiceAuth(opts.AuthSecret)).Post("/status", s.handleAgentStatusUpsert)
		r.Get("/available", s.handleAgentsAvailable)
		r.Get("/{id}/status", s.handleAgentStatus)
	})

	s.logger.Info("api routes mounted")
}

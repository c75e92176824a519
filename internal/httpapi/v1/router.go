// Package v1 wires the HTTP surface of the remittance ledger.
// It keeps handlers thin, delegating every ledger rule to contract.Service.
package v1

import (
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/tinoosan/remitledger/internal/idempotency"
	"github.com/tinoosan/remitledger/internal/service/contract"
)

// DefaultIdempotencyTTL applies when Options.IdempotencyTTL is zero.
const DefaultIdempotencyTTL = 24 * time.Hour

type Options struct {
	JWT JWTConfig
	// ThrottleRPS <= 0 disables per-client throttling.
	ThrottleRPS   float64
	ThrottleBurst int
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxy     bool
	IdempotencyTTL time.Duration
	// Ready lists the dependencies probed by /readyz.
	Ready []ReadyChecker
}

// Server wires handlers and middleware using Chi.
type Server struct {
	svc     contract.Service
	idem    idempotency.Store
	idemTTL time.Duration
	ready   []ReadyChecker
	log     *slog.Logger
	rt      *chi.Mux
}

// New constructs the HTTP server with routes and middleware.
// The logger is used by request logging, panic recovery and error reporting.
func New(svc contract.Service, idem idempotency.Store, opts Options, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)
	if opts.ThrottleRPS > 0 {
		r.Use(newThrottle(rate.Limit(opts.ThrottleRPS), opts.ThrottleBurst).Middleware)
	}
	r.Use(authenticate(opts.JWT))

	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	s := &Server{
		svc:     svc,
		idem:    idem,
		idemTTL: ttl,
		ready:   opts.Ready,
		log:     logger,
		rt:      r,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches any per-route middleware.
func (s *Server) routes() {
	// Instance
	s.rt.With(s.validateInitialize()).Post("/v1/initialize", s.initialize)
	s.rt.Get("/v1/status", s.status)
	s.rt.Post("/v1/pause", s.pause)
	s.rt.Post("/v1/unpause", s.unpause)
	// Remittances
	s.rt.With(s.validateCreateRemittance()).Post("/v1/remittances", s.createRemittance)
	s.rt.With(s.validateListRemittances()).Get("/v1/remittances", s.listRemittances)
	s.rt.Get("/v1/remittances/{id}", s.getRemittance)
	s.rt.Post("/v1/remittances/{id}/accept", s.acceptRemittance)
	s.rt.With(s.validateSettle()).Post("/v1/remittances/{id}/settle", s.settleRemittance)
	s.rt.Post("/v1/remittances/{id}/expire", s.expireRemittance)
	s.rt.Post("/v1/remittances/{id}/cancel", s.cancelRemittance)
	// Admins
	s.rt.Get("/v1/admins", s.listAdmins)
	s.rt.With(s.validateAddressBody()).Post("/v1/admins", s.addAdmin)
	s.rt.Delete("/v1/admins/{address}", s.removeAdmin)
	// Agents
	s.rt.Get("/v1/agents", s.listAgents)
	s.rt.With(s.validateAddressBody()).Post("/v1/agents", s.registerAgent)
	s.rt.Delete("/v1/agents/{address}", s.removeAgent)
	// Tokens
	s.rt.Get("/v1/tokens", s.listTokens)
	s.rt.Get("/v1/tokens/{asset}", s.getToken)
	s.rt.With(s.validateWhitelistToken()).Post("/v1/tokens", s.whitelistToken)
	s.rt.Delete("/v1/tokens/{asset}", s.delistToken)
	// Migrations
	s.rt.Get("/v1/migrations", s.listMigrations)
	s.rt.With(s.validateMigrationBatch()).Post("/v1/migrations", s.submitMigration)
	// Rate limits
	s.rt.Get("/v1/rate-limits/{sender}", s.rateLimitState)
	// Health and metrics (unversioned)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Handle("/metrics", metricsHandler())
}

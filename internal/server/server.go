// Package server exposes the query pipeline and the audited action ledger
// over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/feegate-io/feegate/internal/agent"
	"github.com/feegate-io/feegate/internal/audit"
	"github.com/feegate-io/feegate/internal/requestctx"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router    *chi.Mux
	runner    *agent.Runner
	ledger    *audit.Ledger
	limiter   *RateLimiter
	startTime time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRateLimiter enables request rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// NewServer builds a Server with the required dependencies.
func NewServer(runner *agent.Runner, ledger *audit.Ledger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		runner:    runner,
		ledger:    ledger,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.limiter))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/query", s.handleQuery)
		r.Post("/v1/query/resume", s.handleResume)
		r.Post("/v1/actions", s.handleAction)

		r.Get("/v1/audit", s.handleAuditList)
		r.Get("/v1/audit/{id}", s.handleAuditGet)
		r.Get("/v1/audit/{id}/verify", s.handleAuditVerify)
	})

	return r
}

// correlationMiddleware propagates chi's request ID into the request context
// as the pipeline correlation ID so HTTP access logs and pipeline logs join.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			r = r.WithContext(requestctx.SetCorrelationID(r.Context(), reqID))
		}
		next.ServeHTTP(w, r)
	})
}

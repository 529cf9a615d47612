// Package gateway routes inbound HTTP requests through identity resolution,
// guardrails, rate limiting and idempotent replay before dispatching them to
// backend procedures.
package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/heraerp/heraerp-prd-sub016/internal/audit"
	"github.com/heraerp/heraerp-prd-sub016/internal/backend"
	"github.com/heraerp/heraerp-prd-sub016/internal/cache"
	"github.com/heraerp/heraerp-prd-sub016/internal/guardrail"
	"github.com/heraerp/heraerp-prd-sub016/internal/idempotency"
	"github.com/heraerp/heraerp-prd-sub016/internal/identity"
	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
	mw "github.com/heraerp/heraerp-prd-sub016/internal/middleware"
	"github.com/heraerp/heraerp-prd-sub016/internal/ratelimit"
)

// Deps are the injected collaborators of the gateway; every handle is
// constructed once at process start and passed in, never reached via globals.
type Deps struct {
	Logger      *logging.Logger
	Audit       *audit.Log
	Resolver    *identity.Resolver
	Guardrails  *guardrail.Validator
	Limiter     *ratelimit.Limiter
	Idempotency *idempotency.Handler
	Invoker     backend.Invoker
	Cache       cache.Client

	AllowedOrigins  []string
	DispatchTimeout time.Duration
	MaxBodyBytes    int64
}

// Server is the gateway's HTTP surface.
type Server struct {
	deps    Deps
	router  *mux.Router
	started time.Time
}

// New assembles the gateway router with its middleware chain.
func New(deps Deps) *Server {
	if deps.DispatchTimeout == 0 {
		deps.DispatchTimeout = 30 * time.Second
	}
	if deps.MaxBodyBytes == 0 {
		deps.MaxBodyBytes = 1 << 20 // 1 MiB
	}

	s := &Server{deps: deps, started: time.Now()}

	r := mux.NewRouter()

	backstop := mw.NewBackstop(50, 100, deps.Logger)
	public := r.PathPrefix("/api/v2").Subrouter()
	public.Use(backstop.Handler)
	public.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	public.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v2").Subrouter()
	api.HandleFunc("/entities", s.handleEntities).Methods(http.MethodPost)
	api.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodPost)
	api.HandleFunc("/micro-apps/{subresource}", s.handleMicroApps).Methods(http.MethodPost)
	api.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	s.router = r
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	cors := mw.NewCORSMiddleware(s.deps.AllowedOrigins)
	requestID := mw.NewRequestIDMiddleware(s.deps.Logger)
	return requestID.Handler(cors.Handler(s.router))
}

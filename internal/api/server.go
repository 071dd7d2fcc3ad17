package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/evidence"
	"github.com/opensource-finance/trancheready/internal/metrics"
	"github.com/opensource-finance/trancheready/internal/tadp"
)

// Deps are the collaborators the API serves. Cache and Bus may be nil, which
// disables the routes that need them.
type Deps struct {
	Cache     domain.Cache
	Bus       domain.EventBus
	Processor *tadp.Processor
	Packs     *evidence.Builder
	PackStore *evidence.Store

	// Async enables POST /batches; a worker must be consuming the bus.
	Async     bool
	ResultTTL time.Duration

	// RateLimit is requests per tenant per minute; zero disables it.
	RateLimit int

	Version string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(metrics.Middleware)     // Prometheus request metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Operational endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Use(RateLimitMiddleware(deps.Cache, deps.RateLimit))
		r.Use(BodyLimitMiddleware(cfg.MaxBodyBytes))

		r.Get("/ruleset", handler.GetRuleset)

		// Synchronous scoring
		r.Post("/evaluate", handler.Evaluate)

		// Asynchronous scoring
		r.Post("/batches", handler.SubmitBatch)
		r.Get("/batches/{id}", handler.GetBatch)

		// Evidence packs
		r.Post("/packs", handler.BuildPack)
		r.Post("/packs/sample", handler.BuildSamplePack)
		r.Get("/packs/{token}", handler.GetPack)
		r.Get("/packs/{token}/files/{name}", handler.GetPackFile)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

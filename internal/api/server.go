// Package api provides the HTTP API server and handlers for the Stacks
// enrichment service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/stacksapp/stacks-server/internal/auth"
	"github.com/stacksapp/stacks-server/internal/enrich"
	"github.com/stacksapp/stacks-server/internal/ratelimit"
	"github.com/stacksapp/stacks-server/internal/sse"
	"github.com/stacksapp/stacks-server/internal/store"
	"github.com/stacksapp/stacks-server/internal/validation"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store        *store.Store
	orchestrator *enrich.Orchestrator
	tokens       *auth.TokenService
	sseHandler   *sse.Handler
	limiter      *ratelimit.KeyedRateLimiter
	validator    *validation.Validator
	publicURL    string
	router       *chi.Mux
	api          huma.API
	logger       *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
// limiter may be nil to disable inbound rate limiting.
func NewServer(st *store.Store, orchestrator *enrich.Orchestrator, tokens *auth.TokenService, sseHandler *sse.Handler, limiter *ratelimit.KeyedRateLimiter, publicURL string, logger *slog.Logger) *Server {
	s := &Server{
		store:        st,
		orchestrator: orchestrator,
		tokens:       tokens,
		sseHandler:   sseHandler,
		limiter:      limiter,
		validator:    validation.New(),
		publicURL:    publicURL,
		router:       chi.NewRouter(),
		logger:       logger,
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("Stacks API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}

	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerJobRoutes()

	// The progress stream bypasses huma; SSE needs direct control of the
	// response writer.
	s.router.Get("/api/v1/jobs/{jobID}/events", s.sseHandler.ServeHTTP)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if s.limiter != nil {
		s.router.Use(RateLimitMiddleware(s.limiter, s.logger))
	}
}

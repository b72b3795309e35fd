// Package api exposes the claim scoring engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(metrics.Middleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Probes
	router.Get("/", handler.Root)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/model-health", handler.ModelHealth)
	router.Handle("/metrics", metrics.Handler())

	// Scoring
	router.Post("/predict-fraud", handler.PredictFraud)
	router.Post("/batch-analyze", handler.BatchAnalyze)
	router.Post("/claims", handler.SubmitClaim)
	router.Get("/assessments/{id}", handler.GetAssessment)

	// History administration
	router.Get("/history/{beneficiaryId}", handler.GetHistory)
	router.Get("/history/{beneficiaryId}/assessments", handler.ListAssessments)
	router.Delete("/history", handler.ResetHistory)

	// Reason rules
	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/reload", handler.ReloadRules)
		r.Get("/{id}", handler.GetRule)
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
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
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

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

// Package server provides the HTTP API over one memory store.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/config"
	"github.com/hyperjump/memo/internal/store"
)

// WatchService is the inbox watcher as seen by the API. It may be nil.
type WatchService interface {
	Directory() string
	Extensions() []string
}

// Server is the HTTP server for the memo API.
type Server struct {
	store  *store.Store
	config *config.Config
	logger *zap.Logger
	watch  WatchService
	server *http.Server
}

// NewServer creates a server for st. watch may be nil when no inbox is watched.
func NewServer(st *store.Store, cfg *config.Config, logger *zap.Logger, watch WatchService) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:  st,
		config: cfg,
		logger: logger,
		watch:  watch,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/records", s.handleSave)
		r.Post("/recall", s.handleRecall)
		r.Post("/analyze", s.handleAnalyze)
		r.Delete("/store", s.handleClean)
		r.Get("/status", s.handleStatus)
		r.Get("/watch", s.handleWatch)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.String("store", s.store.Base()))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/cache"
	"github.com/raaihank/seqvec/internal/config"
	"github.com/raaihank/seqvec/internal/logger"
	"github.com/raaihank/seqvec/internal/model"
	"github.com/raaihank/seqvec/internal/store"
	"github.com/raaihank/seqvec/internal/web"
)

// Server exposes a trained lookup table over HTTP. The database store and
// cache are optional backends for labels beyond the in-memory table. The
// table may be nil at construction so clients can connect and watch training
// progress; query endpoints answer 503 until SetTable installs a model.
type Server struct {
	config      *config.Config
	logger      *logger.Logger
	tableMu     sync.RWMutex
	table       *model.Table
	vectorStore *store.Store
	vectorCache *cache.VectorCache
	router      *mux.Router
	server      *http.Server
	hub         *Hub
	limiters    *limiterPool
	startedAt   time.Time
}

// New creates a query server. Pass a nil table to serve the dashboard and
// websocket feed while training is still running.
func New(cfg *config.Config, log *logger.Logger, table *model.Table, vectorStore *store.Store, vectorCache *cache.VectorCache) (*Server, error) {
	hub := NewHub(log.WithComponent("websocket").Logger)

	s := &Server{
		config:      cfg,
		logger:      log.WithComponent("server"),
		table:       table,
		vectorStore: vectorStore,
		vectorCache: vectorCache,
		router:      mux.NewRouter(),
		hub:         hub,
		limiters:    newLimiterPool(cfg.Server.RateLimit.Rate, cfg.Server.RateLimit.Burst),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	if s.config.Server.WebSocket.Enabled {
		s.router.HandleFunc(s.config.Server.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/similarity", s.handleSimilarity).Methods("GET")
	api.HandleFunc("/neighbors", s.handleNeighbors).Methods("GET")
	api.HandleFunc("/vocab/{label}", s.handleVocab).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
}

// SetTable installs the trained lookup table, flipping the query endpoints
// from 503 to live answers.
func (s *Server) SetTable(table *model.Table) {
	s.tableMu.Lock()
	s.table = table
	s.tableMu.Unlock()

	if table != nil {
		s.logger.Info("Model installed",
			zap.Int("vocab_size", table.Vocab().Size()),
			zap.Int("vector_size", table.Dim()))
	}
}

func (s *Server) getTable() *model.Table {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	return s.table
}

// Start starts the HTTP server and the dashboard hub
func (s *Server) Start() error {
	s.startedAt = time.Now()
	s.logger.Info("Starting query server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("model_ready", s.getTable() != nil),
		zap.Bool("store_enabled", s.vectorStore != nil),
		zap.Bool("cache_enabled", s.vectorCache != nil))

	go s.hub.Run()
	if s.config.Server.RateLimit.Enabled {
		s.limiters.startCleanupRoutine()
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping query server")
	return s.server.Shutdown(ctx)
}

// Hub returns the dashboard hub for broadcasting events
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}

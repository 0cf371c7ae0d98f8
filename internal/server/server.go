// Package server provides the HTTP API for tsearch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/tsearch/internal/config"
	"github.com/hyperjump/tsearch/internal/engine"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/mutation"
	"github.com/hyperjump/tsearch/pkg/utils"
	"go.uber.org/zap"
)

// Searcher answers search requests.
type Searcher interface {
	Search(ctx context.Context, q models.SearchQuery) (*models.SearchResponse, error)
}

// Mutator applies modify and drop requests.
type Mutator interface {
	Apply(ctx context.Context, cmds []models.Command) (*models.BatchResult, error)
	ClearAll(ctx context.Context) (mutation.ClearProgress, error)
}

// StatsProvider reports index statistics.
type StatsProvider interface {
	Stats() (engine.Stats, error)
}

// WatchService manages the spool directories watched for modify requests.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the tsearch API.
type Server struct {
	search  Searcher
	mutator Mutator
	stats   StatsProvider
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server

	watch         WatchService
	configPath    string
	watchConfig   *config.Config
	watchConfigMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithWatch enables the spool directory endpoints. When configPath is set,
// directory changes are persisted to it.
func WithWatch(ws WatchService, configPath string, cfg *config.Config) Option {
	return func(s *Server) {
		s.watch = ws
		s.configPath = configPath
		s.watchConfig = cfg
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(search Searcher, mutator Mutator, stats StatsProvider, cfg *config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		search:  search,
		mutator: mutator,
		stats:   stats,
		config:  cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	timeout := time.Duration(s.config.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))
	if s.config.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(s.config.MaxBodyBytes))
	}

	// legacy routes kept for existing clients
	r.Post("/search", s.handleLegacySearch)
	r.Post("/modify", s.handleLegacyModify)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/modify", s.handleModify)
		r.Post("/drop", s.handleDrop)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// requestLogger logs each request at debug level through zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

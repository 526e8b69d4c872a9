// Package api exposes the memo engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ximing/aimo/internal/observability"
	"github.com/ximing/aimo/pkg/aitag"
	"github.com/ximing/aimo/pkg/memo"
	"github.com/ximing/aimo/pkg/search"
)

// ServerOptions configures the HTTP server
type ServerOptions struct {
	Host string
	Port int
}

// Server serves the memo API
type Server struct {
	options   ServerOptions
	repo      *memo.Repository
	search    *search.Coordinator
	suggester *aitag.Suggester
	server    *http.Server
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates the API server. suggester may be nil when no AI
// provider is configured; the suggest endpoint then returns 503.
func NewServer(options ServerOptions, repo *memo.Repository, coordinator *search.Coordinator, suggester *aitag.Suggester, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 3210
	}
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if repo == nil {
		return nil, fmt.Errorf("memo repository is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("search coordinator is required")
	}

	return &Server{
		options:   options,
		repo:      repo,
		search:    coordinator,
		suggester: suggester,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// routes builds the request mux
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("POST /api/memos", s.handleCreateMemo)
	mux.HandleFunc("GET /api/memos", s.handleListMemos)
	mux.HandleFunc("GET /api/memos/{id}", s.handleGetMemo)
	mux.HandleFunc("PATCH /api/memos/{id}", s.handleUpdateMemo)
	mux.HandleFunc("DELETE /api/memos/{id}", s.handleDeleteMemo)
	mux.HandleFunc("GET /api/memos/{id}/related", s.handleRelated)

	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/tags/suggest", s.handleSuggestTags)

	return mux
}

// Start runs the server until Stop or a listener error
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.routes(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Shutting down API server")
	return s.server.Shutdown(ctx)
}

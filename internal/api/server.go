// Package api implements the HTTP/websocket surface over the job
// orchestrator and RAG chat builder: a stdlib http.ServeMux wrapped in an
// http.Server with Start/Shutdown, plus a websocket upgrade path for
// streaming job progress and chat tokens to a single caller-opened socket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
)

// Server manages the HTTP server and routes.
type Server struct {
	logger       arbor.ILogger
	router       *http.ServeMux
	server       *http.Server
	shutdownChan chan struct{}
}

// New creates the HTTP server, wiring jobs/chat handlers into the route
// table and binding the address from config.Server.
func New(config common.ServerConfig, jobs *JobsHandler, chat *ChatHandler, logger arbor.ILogger) *Server {
	s := &Server{logger: logger}
	s.router = setupRoutes(jobs, chat)
	s.router.HandleFunc("/api/shutdown", s.ShutdownHandler)

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      withConditionalMiddleware(logger, s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 360 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// SetShutdownChannel sets the channel signaled by the shutdown endpoint.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.server.Addr).Msg("http server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ShutdownHandler handles POST /api/shutdown (dev-mode graceful shutdown).
func (s *Server) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info().Msg("shutdown requested via http endpoint")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("shutting down gracefully...\n"))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

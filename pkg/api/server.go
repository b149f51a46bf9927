// Package api exposes the control-plane REST surface: a thin CRUD
// adapter over the lifecycle manager.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mockhive/mockhive/pkg/logging"
	"github.com/mockhive/mockhive/pkg/manager"
)

// Server hosts the control-plane API.
type Server struct {
	mgr *manager.Manager
	log *slog.Logger
	mux *http.ServeMux
	srv *http.Server
}

// New builds the API server and registers its routes.
func New(mgr *manager.Manager, log *slog.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{mgr: mgr, log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/servers", s.handleCreate)
	s.mux.HandleFunc("GET /api/servers", s.handleList)
	s.mux.HandleFunc("GET /api/servers/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /api/servers/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/servers/{id}/exists", s.handleExists)

	s.mux.HandleFunc("POST /api/servers/{id}/expectations", s.handleSetExpectations)
	s.mux.HandleFunc("GET /api/servers/{id}/expectations", s.handleGetExpectations)
	s.mux.HandleFunc("DELETE /api/servers/{id}/expectations", s.handleClearExpectations)
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the admin port and serves in the background. Bind errors
// are returned synchronously.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("binding admin port %d: %w", port, err)
	}

	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin serve loop exited", "error", err)
		}
	}()

	s.log.Info("control plane listening", "port", port)
	return nil
}

// Shutdown drains the admin listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

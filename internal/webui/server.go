// Package webui runs the dashboard listener. It is a separate HTTP server
// so the UI port can be firewalled independently of the API.
package webui

import (
	"log/slog"
	"net/http"

	"github.com/pyrowatch/pyrowatch/internal/logging"
	"github.com/pyrowatch/pyrowatch/ui"
)

// Server serves the embedded dashboard.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the UI server.
func NewServer() (*Server, error) {
	handler, err := ui.Handler()
	if err != nil {
		return nil, err
	}
	return &Server{
		httpServer: &http.Server{Handler: handler},
		logger:     logging.GetLogger("webui"),
	}, nil
}

// Start serves the dashboard on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting web UI", "addr", addr)
	s.httpServer.Addr = addr
	return s.httpServer.ListenAndServe()
}

// Stop closes the server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping web UI")
	return s.httpServer.Close()
}

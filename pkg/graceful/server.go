// Package graceful runs the HTTP server so it can be drained as part of a phased shutdown.
package graceful

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Proton-105/premium-bot/pkg/config"
)

// Server wraps http.Server with explicit start and drain steps.
type Server struct {
	httpServer      *http.Server
	log             *slog.Logger
	shutdownTimeout time.Duration
	listener        net.Listener
	errCh           chan error
}

// NewServer constructs a server listening on cfg.Port.
func NewServer(log *slog.Logger, cfg config.ServerConfig, handler http.Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              listenAddr(cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		log:             log.With(slog.String("component", "http_server")),
		shutdownTimeout: cfg.ShutdownTimeout,
		errCh:           make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are returned directly;
// later serve errors are reported on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	go func() {
		s.log.Info("http server listening", slog.String("addr", ln.Addr().String()))

		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", slog.Any("error", err))
			s.errCh <- err
		}
		close(s.errCh)
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Errors delivers a fatal serve error and is closed when serving stops.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded by the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	s.log.Info("shutting down http server", slog.Duration("timeout", s.shutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("http server shutdown error", slog.Any("error", err))
		return err
	}
	return nil
}

func listenAddr(port string) string {
	if port == "" {
		return ":8080"
	}
	if _, _, err := net.SplitHostPort(port); err == nil {
		return port
	}
	return ":" + port
}

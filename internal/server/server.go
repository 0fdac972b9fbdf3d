// Package server exposes the scanner over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/config"
)

// Scanner runs one scan per call.
type Scanner interface {
	Scan(ctx context.Context, url string) (*schemas.Report, error)
}

// SessionManager is shut down after the HTTP listener has drained.
type SessionManager interface {
	Shutdown(ctx context.Context) error
}

// Server hosts the scan API.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	handlers   *Handlers
	sessions   SessionManager
	httpServer *http.Server
}

// New creates a server. sessions may be nil when the scanner owns no
// long-lived browser resources.
func New(cfg config.ServerConfig, scanner Scanner, sessions SessionManager, logger *zap.Logger) (*Server, error) {
	if scanner == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize server with nil dependencies")
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		handlers: NewHandlers(logger, scanner),
		sessions: sessions,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	return s, nil
}

// Router builds the HTTP routes and middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer) // Catches panics
	r.Use(corsMiddleware(s.cfg.CORSOrigin))

	r.Get("/", s.handlers.HandleRoot)
	r.Get("/healthz", s.handlers.HandleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.MaxBodyBytes > 0 {
			r.Use(middleware.RequestSize(s.cfg.MaxBodyBytes))
		}
		if s.cfg.RateLimit > 0 {
			r.Use(newIPRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).Middleware)
		}
		r.Post("/url/scan", s.handlers.HandleScan)
	})
	return r
}

// Run serves until ctx is canceled, then drains in-flight requests and shuts
// down the session manager.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Server is running", zap.String("address", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
			s.shutdownSessions(context.Background())
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		errs = append(errs, err)
	}
	if err := s.shutdownSessions(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) shutdownSessions(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	s.logger.Info("Shutting down browser manager...")
	if err := s.sessions.Shutdown(ctx); err != nil {
		s.logger.Error("Browser manager shutdown error", zap.Error(err))
		return err
	}
	return nil
}

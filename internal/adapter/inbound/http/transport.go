package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-warden/warden/internal/domain/auth"
)

// Server is the inbound adapter that exposes the gateway API over HTTP.
type Server struct {
	api      *Handler
	health   *HealthChecker
	keys     *auth.APIKeyService
	reg      *prometheus.Registry
	metrics  *Metrics
	server   *http.Server
	addr     string
	certFile string
	keyFile  string
	logger   *slog.Logger
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) ServerOption {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAPIKeyService enables secure-mode authentication. When nil, the
// server runs in dev mode and only checks key shape.
func WithAPIKeyService(keys *auth.APIKeyService) ServerOption {
	return func(s *Server) {
		s.keys = keys
	}
}

// WithHealthChecker sets the health checker for the /health endpoints.
func WithHealthChecker(hc *HealthChecker) ServerOption {
	return func(s *Server) {
		s.health = hc
	}
}

// WithPrometheus sets a shared registry and metrics. When omitted, Start
// creates a private registry; sharing lets the boot sequence register
// collectors (audit drop counter, webhook observer) on the same registry
// the /metrics route serves.
func WithPrometheus(reg *prometheus.Registry, m *Metrics) ServerOption {
	return func(s *Server) {
		s.reg = reg
		s.metrics = m
	}
}

// NewServer creates an HTTP server serving the given API handler.
func NewServer(api *Handler, opts ...ServerOption) *Server {
	s := &Server{
		api:    api,
		addr:   "127.0.0.1:8080",
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	if s.reg == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.reg = reg
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(s.reg)
	}

	// API routes plus the operational surface.
	mux := s.api.Routes()
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		Registry: s.reg,
	}))
	// Favicon handler to prevent browser 500 errors
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Middleware chain (outermost first):
	// 1. RequestID - Extract/generate request ID and enrich logger
	// 2. Logging - One line per request, X-Processing-Time-Ms header
	// 3. Metrics - Record duration and status
	// 4. Auth - Bearer key check, public paths exempt
	var handler http.Handler = mux
	handler = AuthMiddleware(s.keys, s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	handler = LoggingMiddleware()(handler)
	handler = RequestIDMiddleware(s.logger)(handler)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	// Configure TLS if certificates provided
	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Channel for server errors
	errCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}

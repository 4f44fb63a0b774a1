package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bookoftales/tales/internal/config"
	"github.com/bookoftales/tales/internal/docs"
	"github.com/bookoftales/tales/internal/httpserver/deps"
	"github.com/bookoftales/tales/internal/httpserver/mw"
	"github.com/bookoftales/tales/internal/httpserver/routes"
	"github.com/bookoftales/tales/internal/logger"
	"github.com/bookoftales/tales/internal/metrics"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	http     *http.Server
	logger   logger.Logger
	listener net.Listener
	started  time.Time
}

// New builds the HTTP server: global middlewares, operational endpoints,
// documentation, and every registry route wrapped with a pooled connection.
func New(cfg config.ServerConfig, loggerClient logger.Logger, d deps.Deps, reg *routes.Registry, m *metrics.Metrics, doc *docs.Handlers) *Server {
	r := chi.NewRouter()

	// --- Global middlewares (safe defaults)
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID) // X-Request-ID on each request
	r.Use(mw.Log(loggerClient)) // structured access logs
	r.Use(middleware.Recoverer) // never crash the process on panic
	if m != nil {
		r.Use(m.Instrument)
	}

	var metricsHandler http.Handler
	if m != nil {
		metricsHandler = m.Handler()
	}
	routes.MountOps(r, d, metricsHandler)
	if doc != nil {
		doc.Mount(r)
	}

	r.Group(func(api chi.Router) {
		if cfg.RequestTimeout > 0 {
			api.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		if cfg.RateLimit.RequestsPerSecond > 0 {
			api.Use(mw.RateLimit(mw.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				Burst:             cfg.RateLimit.Burst,
				MaxEntries:        10000,
				TrustProxy:        cfg.TrustProxy,
			}))
		}
		routes.Mount(api, reg, mw.WithConn(d.Pool, 1, loggerClient))
	})

	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	if cfg.RequestTimeout > 0 {
		s.WriteTimeout = cfg.RequestTimeout + 5*time.Second
	}

	return &Server{
		http:    s,
		logger:  loggerClient,
		started: d.StartTime,
	}
}

// Listen binds the TCP listener, so bind errors surface before serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Infof("HTTP server listening on %s", ln.Addr())
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.http.Addr
}

// Serve accepts connections until Stop (blocks). Listen must be called first.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("httpserver: Serve called before Listen")
	}
	err := s.http.Serve(s.listener)
	// http.ErrServerClosed is expected on graceful shutdown.
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down...",
		logger.Duration("uptime", time.Since(s.started)))
	return s.http.Shutdown(ctx)
}

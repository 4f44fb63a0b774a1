package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookoftales/tales/internal/config"
	"github.com/bookoftales/tales/internal/database"
	"github.com/bookoftales/tales/internal/docs"
	"github.com/bookoftales/tales/internal/httpserver"
	"github.com/bookoftales/tales/internal/httpserver/deps"
	"github.com/bookoftales/tales/internal/httpserver/routes"
	"github.com/bookoftales/tales/internal/logger"
	"github.com/bookoftales/tales/internal/metrics"
	"github.com/bookoftales/tales/internal/pool"
	"github.com/bookoftales/tales/internal/telemetry"
	"github.com/bookoftales/tales/internal/utils"
	"github.com/bookoftales/tales/internal/version"
)

type App struct {
	cfg      config.Config
	logger   logger.Logger
	tracing  telemetry.Shutdown
	pool     *pool.Pool
	server   *httpserver.Server
	serveErr chan error
}

// New resolves the configuration and prepares logging and tracing. Nothing
// touches the network until Start.
func New(src config.Sources) (*App, error) {
	cfg, err := config.Resolve(src)
	if err != nil {
		return nil, err
	}

	loggerClient := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	tracing, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	loggerClient.Debug("configuration resolved",
		logger.String("listen", cfg.Server.Listen),
		logger.String("db_host", cfg.Redacted().Database.Host),
		logger.Int("db_min", cfg.Database.Connections.Min),
		logger.Int("db_max", cfg.Database.Connections.Max),
		logger.Bool("tracing", cfg.Telemetry.Enabled))

	return &App{
		cfg:     cfg,
		logger:  loggerClient,
		tracing: tracing,
	}, nil
}

func poolOptions(cfg config.DatabaseConfig) pool.Options {
	return pool.Options{
		MinConns:       cfg.Connections.Min,
		MaxConns:       cfg.Connections.Max,
		ConnectTimeout: cfg.Timeout.Connect,
		IdleTimeout:    cfg.Timeout.Idle,
		ReapInterval:   cfg.Timeout.Reap,
	}
}

func retryPolicy(cfg config.RetryConfig) pool.RetryPolicy {
	return pool.RetryPolicy{
		Attempts:      cfg.Attempts,
		InitialWait:   cfg.Interval,
		MaxWait:       cfg.MaxWait,
		WarnThreshold: cfg.WarnThreshold,
	}
}

// Start connects the pool, registers the routes, binds the listener and
// serves in the background. A pool init failure is returned as is.
func (a *App) Start(ctx context.Context) error {
	a.logger.Infof("🚀 Starting tales %s on %s", version.Version, a.cfg.Server.Listen)
	a.logger.Infof("tales %s", version.Get())

	driver, err := database.NewDriver(a.cfg.Database.Host, a.cfg.Database.Extensions)
	if err != nil {
		return fmt.Errorf("failed to open database driver: %w", err)
	}

	p, err := pool.Connect(ctx, poolOptions(a.cfg.Database), driver, a.logger,
		database.Redact(a.cfg.Database.Host), retryPolicy(a.cfg.Database.Retry))
	if err != nil {
		if cl, ok := driver.(io.Closer); ok {
			utils.Close(cl, a.logger, "database driver")
		}
		return err
	}
	a.pool = p

	m := metrics.New()
	if err := m.RegisterPool(p); err != nil {
		a.closePool()
		return fmt.Errorf("failed to register pool metrics: %w", err)
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       a.logger,
		StartTime:    time.Now(),
		Build:        version.Get(),
		TimeNow:      time.Now,
		Pool:         p,
		TrustProxy:   a.cfg.Server.TrustProxy,
		MetricsCIDRs: a.cfg.Server.MetricsCIDRs,
	}

	reg := routes.NewRegistry()
	if err := routes.RegisterAll(reg, d); err != nil {
		a.closePool()
		return fmt.Errorf("failed to register routes: %w", err)
	}
	a.logger.Info("routes registered", logger.Int("count", reg.Len()))

	doc, err := docs.NewHandlers(docs.Build(docs.Info{
		Title:   "tales",
		Version: version.Version,
	}, reg.Routes()))
	if err != nil {
		a.closePool()
		return fmt.Errorf("failed to render api docs: %w", err)
	}

	a.server = httpserver.New(a.cfg.Server, a.logger, d, reg, m, doc)
	if err := a.server.Listen(); err != nil {
		a.closePool()
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Listen, err)
	}

	a.serveErr = make(chan error, 1)
	go func() {
		if err := a.server.Serve(); err != nil {
			a.serveErr <- fmt.Errorf("http server error: %w", err)
		}
		close(a.serveErr)
	}()
	return nil
}

func (a *App) closePool() {
	if a.pool == nil {
		return
	}
	if err := a.pool.Close(context.Background()); err != nil {
		a.logger.Warn("failed to close pool", logger.Error(err))
	}
	a.pool = nil
}

// Addr is the bound listen address, useful with ":0".
func (a *App) Addr() string {
	if a.server == nil {
		return a.cfg.Server.Listen
	}
	return a.server.Addr()
}

// Pool returns the connection pool once Start succeeded.
func (a *App) Pool() *pool.Pool { return a.pool }

// Stop tears the service down in order: stop accepting and drain requests,
// close the pool, flush traces, sync the logger. Every step runs even when an
// earlier one fails; the errors are joined.
func (a *App) Stop(ctx context.Context) error {
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
		}
	}

	if a.pool != nil {
		if err := a.pool.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close pool: %w", err))
		}
	}

	if a.tracing != nil {
		if err := a.tracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Error("shutdown finished with errors", logger.Error(err))
	} else {
		a.logger.Info("✅ tales stopped cleanly")
	}
	// Sync fails on stdout/stderr on some platforms, ignore it.
	_ = a.logger.Sync()

	return errors.Join(errs...)
}

// Run starts the service and blocks until SIGINT/SIGTERM or a server failure.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case serveErr = <-a.serveErr:
	}

	return errors.Join(serveErr, a.Stop(context.Background()))
}

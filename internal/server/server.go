// Package server exposes sync runs over HTTP: an on-demand trigger per
// integration, watermark inspection, health and Prometheus metrics, plus an
// optional interval scheduler.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/observability"
	"github.com/tphakala/ebirdsync/internal/syncer"
	"github.com/tphakala/ebirdsync/internal/watermark"
)

const (
	shutdownTimeout = 30 * time.Second
	readTimeout     = 30 * time.Second
	idleTimeout     = 120 * time.Second
)

// Runner runs one sync. *syncer.Syncer implements it.
type Runner interface {
	Run(ctx context.Context, integration conf.IntegrationSettings) (syncer.Result, error)
}

// Options configures a Server.
type Options struct {
	Settings *conf.Settings
	// Runners maps integration id to its runner.
	Runners map[string]Runner
	Store   watermark.Store
	Metrics *observability.Metrics
	Logger  logger.Logger
}

// Server is the HTTP trigger and scheduler.
type Server struct {
	echo     *echo.Echo
	settings *conf.Settings
	runners  map[string]Runner
	store    watermark.Store
	metrics  *observability.Metrics
	log      logger.Logger

	// base is the lifetime of runs; they outlive the request that
	// triggered them.
	base      context.Context
	cancel    context.CancelFunc
	startTime time.Time

	mu      sync.Mutex
	busy    map[string]struct{}
	closing bool // set by Shutdown; no new runs start after it
	wg      sync.WaitGroup
}

// New creates the server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Settings == nil || opts.Store == nil {
		return nil, errors.Newf("server requires settings and a watermark store").
			Category(errors.CategoryConfiguration).
			Component("server").
			Build()
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:      echo.New(),
		settings:  opts.Settings,
		runners:   opts.Runners,
		store:     opts.Store,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		base:      base,
		cancel:    cancel,
		startTime: time.Now(),
		busy:      make(map[string]struct{}),
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = readTimeout
	s.echo.Server.IdleTimeout = idleTimeout

	s.echo.Use(middleware.Recover())
	s.echo.Use(newRequestID())
	s.echo.Use(newRequestLogger(s.log))

	s.setupRoutes()
	return s, nil
}

// GetLogger returns the server package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("server")
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := s.echo.Group("/api/v1")
	api.GET("/integrations", s.listIntegrations)
	api.POST("/integrations/:id/pull", s.triggerPull)
	api.GET("/integrations/:id/state", s.getState)
	api.DELETE("/integrations/:id/state", s.resetState)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on the configured address and, when an interval is set, runs
// every integration on that interval. It returns after ctx is cancelled
// and in-flight runs have finished.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server starting", logger.String("address", s.settings.Server.Listen))
		if err := s.echo.Start(s.settings.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Category(errors.CategoryNetwork).
				Component("server").
				Context("address", s.settings.Server.Listen).
				Build()
		}
		return nil
	})

	if interval := s.settings.Server.Interval; interval > 0 {
		g.Go(func() error {
			s.schedule(gctx, interval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown stops accepting requests and waits for running syncs.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.echo.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("timed out waiting for running syncs")
	}

	s.log.Info("HTTP server stopped")
	return err
}

// tryAcquire marks id as running. It fails with errBusy if a run for id is
// already in progress and with errShuttingDown once Shutdown has begun.
func (s *Server) tryAcquire(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errShuttingDown
	}
	if _, running := s.busy[id]; running {
		return errBusy
	}
	s.busy[id] = struct{}{}
	s.wg.Add(1)
	return nil
}

func (s *Server) release(id string) {
	s.mu.Lock()
	delete(s.busy, id)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isBusy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.busy[id]
	return running
}

var (
	// errBusy is returned when a run for the integration is already active.
	errBusy         = errors.NewStd("sync already running")
	errShuttingDown = errors.NewStd("server is shutting down")
)

// runOnce runs integration id unless it is already running.
func (s *Server) runOnce(id string) (syncer.Result, error) {
	integration, ok := s.settings.Integration(id)
	runner, hasRunner := s.runners[id]
	if !ok || !hasRunner {
		return syncer.Result{}, errors.Newf("unknown integration %q", id).
			Category(errors.CategoryNotFound).
			Component("server").
			Build()
	}

	if err := s.tryAcquire(id); err != nil {
		return syncer.Result{}, err
	}
	defer s.release(id)

	return runner.Run(s.base, integration)
}

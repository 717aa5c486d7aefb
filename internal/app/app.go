// Package app assembles the long-lived collaborators of a sync process
// from settings: metrics, watermark store, sink, alerter and one eBird
// client per integration.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/ebird"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/notification"
	"github.com/tphakala/ebirdsync/internal/observability"
	"github.com/tphakala/ebirdsync/internal/observability/metrics"
	"github.com/tphakala/ebirdsync/internal/sink"
	"github.com/tphakala/ebirdsync/internal/syncer"
	"github.com/tphakala/ebirdsync/internal/watermark"
)

// Options tune how the App is built.
type Options struct {
	// RuntimeMetrics adds Go and process collectors to the registry.
	RuntimeMetrics bool
	// EBirdTransport replaces the eBird HTTP transport, used by tests.
	EBirdTransport http.RoundTripper
	// Sink replaces the configured sink, used by tests.
	Sink sink.Sink
}

// App owns the shared resources of one process.
type App struct {
	Settings *conf.Settings
	// Metrics is nil when metrics are disabled.
	Metrics *observability.Metrics
	Store   watermark.Store
	Sink    sink.Sink
	Alerter notification.Alerter

	opts Options
	log  logger.Logger

	mu      sync.Mutex
	clients []*ebird.Client
}

// New builds the App. Resources created before a failure are released.
func New(ctx context.Context, settings *conf.Settings, opts Options) (*App, error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Category(errors.CategoryConfiguration).
			Component("app").
			Build()
	}

	a := &App{
		Settings: settings,
		Alerter:  notification.NoopAlerter{},
		opts:     opts,
		log:      GetLogger(),
	}

	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics(opts.RuntimeMetrics)
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryConfiguration).
				Component("app").
				Context("operation", "init-metrics").
				Build()
		}
		a.Metrics = m
	}

	store, err := watermark.Open(ctx, settings.Watermark, nil)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if err := a.openSink(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if len(settings.Notification.URLs) > 0 {
		alerter, err := notification.NewShoutrrrAlerter(notification.ShoutrrrConfig{
			URLs:    settings.Notification.URLs,
			Timeout: settings.Notification.Timeout,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Alerter = alerter
	}

	a.log.Debug("app initialized",
		logger.String("watermark_backend", settings.Watermark.Backend),
		logger.String("sink", settings.Sink.Type),
		logger.Bool("metrics", a.Metrics != nil),
		logger.Int("integrations", len(settings.Integrations)))
	return a, nil
}

func (a *App) openSink(ctx context.Context) error {
	s := a.opts.Sink
	if s == nil {
		var err error
		s, err = sink.New(ctx, a.Settings.Sink)
		if err != nil {
			return err
		}
	}

	if a.Metrics != nil {
		s = sink.Instrument(s, a.Settings.Sink.Type, a.Metrics.Sink)
	}
	a.Sink = s
	return nil
}

// EBirdClient creates a client for integration's credentials. The App
// closes it on Close.
func (a *App) EBirdClient(integration conf.IntegrationSettings) (*ebird.Client, error) {
	cfg := EBirdConfig(a.Settings, integration)
	cfg.Transport = a.opts.EBirdTransport
	if a.Metrics != nil {
		cfg.Observer = a.Metrics.EBird
	}

	client, err := ebird.NewClient(cfg)
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Context("integration_id", integration.ID).
			Build()
	}

	a.mu.Lock()
	a.clients = append(a.clients, client)
	a.mu.Unlock()
	return client, nil
}

// EBirdConfig maps the shared eBird section and integration credentials to
// a client config.
func EBirdConfig(settings *conf.Settings, integration conf.IntegrationSettings) ebird.Config {
	return ebird.Config{
		APIKey:            integration.Auth.APIKey,
		BaseURL:           integration.Auth.BaseURL,
		Timeout:           settings.EBird.RequestTimeout,
		RequestsPerSecond: settings.EBird.RequestsPerSecond,
		Burst:             settings.EBird.Burst,
		RegionCacheTTL:    settings.EBird.RegionCacheTTL,
	}
}

// Syncer creates a Syncer bound to integration's eBird client.
func (a *App) Syncer(integration conf.IntegrationSettings) (*syncer.Syncer, error) {
	client, err := a.EBirdClient(integration)
	if err != nil {
		return nil, err
	}

	deps := syncer.Deps{
		Store:   a.Store,
		Source:  client,
		Sink:    a.Sink,
		Alerter: a.Alerter,
	}
	if a.Metrics != nil {
		deps.Metrics = a.Metrics.Sync
	} else {
		deps.Metrics = metrics.NoopRecorder{}
	}
	return syncer.New(deps)
}

// Integrations resolves ids to configured integrations. No ids selects all
// of them.
func (a *App) Integrations(ids ...string) ([]conf.IntegrationSettings, error) {
	if len(ids) == 0 {
		if len(a.Settings.Integrations) == 0 {
			return nil, errors.Newf("no integrations configured").
				Category(errors.CategoryConfiguration).
				Component("app").
				Build()
		}
		return a.Settings.Integrations, nil
	}

	selected := make([]conf.IntegrationSettings, 0, len(ids))
	for _, id := range ids {
		integration, ok := a.Settings.Integration(id)
		if !ok {
			return nil, errors.Newf("unknown integration %q", id).
				Category(errors.CategoryNotFound).
				Component("app").
				Build()
		}
		selected = append(selected, integration)
	}
	return selected, nil
}

// Close releases every resource, returning the first error.
func (a *App) Close() error {
	a.mu.Lock()
	for _, c := range a.clients {
		c.Close()
	}
	a.clients = nil
	a.mu.Unlock()

	var firstErr error
	if a.Sink != nil {
		if err := a.Sink.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// Package serve provides the serve command: the HTTP trigger, metrics
// endpoint and optional scheduled pulls.
package serve

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tphakala/ebirdsync/internal/app"
	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/server"
)

// Command creates the serve command.
func Command(settings *conf.Settings, version string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger and metrics endpoints",
		Long: `Serve exposes POST /api/v1/integrations/{id}/pull to run a sync on demand,
the watermark of each integration, /healthz and /metrics. When server.interval
is set every integration is also pulled on that interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				settings.Server.Listen = listen
			}
			return Run(cmd.Context(), settings, version, app.Options{RuntimeMetrics: true})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides server.listen")
	return cmd
}

// Run serves until ctx is cancelled.
func Run(ctx context.Context, settings *conf.Settings, version string, opts app.Options) error {
	a, err := app.New(ctx, settings, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Global().Module("cmd").Warn("failed to release resources", logger.Error(err))
		}
	}()

	srv, err := newServer(a)
	if err != nil {
		return err
	}

	logger.Global().Module("cmd").Info("starting ebirdsync server",
		logger.String("version", version),
		logger.String("listen", settings.Server.Listen),
		logger.Int("integrations", len(settings.Integrations)),
		logger.Duration("interval", settings.Server.Interval))

	return srv.Run(ctx)
}

// newServer creates one runner per configured integration.
func newServer(a *app.App) (*server.Server, error) {
	runners := make(map[string]server.Runner, len(a.Settings.Integrations))
	for _, integration := range a.Settings.Integrations {
		s, err := a.Syncer(integration)
		if err != nil {
			return nil, err
		}
		runners[integration.ID] = s
	}

	return server.New(server.Options{
		Settings: a.Settings,
		Runners:  runners,
		Store:    a.Store,
		Metrics:  a.Metrics,
	})
}

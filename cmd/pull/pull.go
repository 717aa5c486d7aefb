// Package pull provides the pull command, one sync run per integration.
package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/ebirdsync/internal/app"
	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/syncer"
)

const metricsPushTimeout = 10 * time.Second

// Command creates the pull command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "pull [integration-id...]",
		Short: "Run one sync for the given integrations",
		Long: `Pull runs one incremental sync per integration: new observations since the
stored watermark are forwarded to the configured sink and the watermark is
advanced only when the sink accepted them.

Examples:
  ebirdsync pull my-integration
  ebirdsync pull --all --json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all cannot be combined with integration ids")
			}
			if !all && len(args) == 0 {
				return fmt.Errorf("specify integration ids or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), settings, app.Options{})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Global().Module("cmd").Warn("failed to release resources", logger.Error(err))
				}
			}()

			return Run(cmd.Context(), cmd.OutOrStdout(), a, args, asJSON)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Pull every configured integration")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

// outcome is the result of one integration's run.
type outcome struct {
	Result syncer.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
	err    error
}

// Run syncs the integrations named by ids, or all of them, with at most
// Sync.Concurrency running at once. Results are written to w in
// configuration order. The returned error joins every failed run.
func Run(ctx context.Context, w io.Writer, a *app.App, ids []string, asJSON bool) error {
	integrations, err := a.Integrations(ids...)
	if err != nil {
		return err
	}

	outcomes := make([]outcome, len(integrations))

	g := new(errgroup.Group)
	g.SetLimit(max(1, a.Settings.Sync.Concurrency))
	for i := range integrations {
		integration := integrations[i]
		g.Go(func() error {
			outcomes[i] = runOne(ctx, a, integration)
			return nil
		})
	}
	_ = g.Wait()

	pushMetrics(ctx, a)

	if err := report(w, outcomes, asJSON); err != nil {
		return err
	}

	var failed []error
	for i := range outcomes {
		if outcomes[i].err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", integrations[i].ID, outcomes[i].err))
		}
	}
	return errors.Join(failed...)
}

func runOne(ctx context.Context, a *app.App, integration conf.IntegrationSettings) outcome {
	s, err := a.Syncer(integration)
	if err != nil {
		return outcome{
			Result: syncer.Result{IntegrationID: integration.ID, ActionID: integration.ActionID},
			Error:  err.Error(),
			err:    err,
		}
	}

	result, err := s.Run(ctx, integration)
	o := outcome{Result: result, err: err}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// pushMetrics sends the run's metrics to the push gateway, if configured.
// A failed push is logged and does not fail the command.
func pushMetrics(ctx context.Context, a *app.App) {
	if a.Metrics == nil || a.Settings.Metrics.PushGatewayURL == "" {
		return
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
	defer cancel()

	if err := a.Metrics.Push(pushCtx, a.Settings.Metrics.PushGatewayURL, a.Settings.Metrics.JobName); err != nil {
		logger.Global().Module("cmd").Warn("failed to push metrics", logger.Error(err))
	}
}

func report(w io.Writer, outcomes []outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	}

	for i := range outcomes {
		r := &outcomes[i].Result
		if outcomes[i].err != nil {
			if _, err := fmt.Fprintf(w, "%s: FAILED forwarded=%d error=%s\n", r.IntegrationID, r.EventsForwarded, outcomes[i].Error); err != nil {
				return err
			}
			continue
		}

		watermark := "none"
		if r.Watermark != nil {
			watermark = r.Watermark.Format(time.RFC3339)
		}
		if _, err := fmt.Fprintf(w, "%s: ok forwarded=%d fetched=%d skipped=%d filtered=%d watermark=%s\n",
			r.IntegrationID, r.EventsForwarded, r.Fetched, r.Skipped, r.Filtered, watermark); err != nil {
			return err
		}
	}
	return nil
}

// Package state provides commands to inspect and clear stored watermarks.
package state

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/watermark"
)

// Command creates the state command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset sync watermarks",
	}

	cmd.AddCommand(showCommand(settings), resetCommand(settings))
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show [integration-id...]",
		Short: "Print the watermark of integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), settings, func(store watermark.Store) error {
				integrations, err := selectIntegrations(settings, args)
				if err != nil {
					return err
				}
				for _, integration := range integrations {
					if err := Show(cmd.Context(), cmd.OutOrStdout(), store, integration); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func resetCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <integration-id>",
		Short: "Clear the watermark so the next pull uses the default lookback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			integration, ok := settings.Integration(args[0])
			if !ok {
				return fmt.Errorf("unknown integration %q", args[0])
			}
			return withStore(cmd.Context(), settings, func(store watermark.Store) error {
				return Reset(cmd.Context(), cmd.OutOrStdout(), store, integration)
			})
		},
	}
}

// Show writes one line describing integration's watermark.
func Show(ctx context.Context, w io.Writer, store watermark.Store, integration conf.IntegrationSettings) error {
	blob, found, err := store.Get(ctx, integration.ID, integration.ActionID)
	if err != nil {
		return err
	}
	if !found {
		_, err = fmt.Fprintf(w, "%s/%s: no watermark\n", integration.ID, integration.ActionID)
		return err
	}

	latest, ok, err := watermark.Decode(blob)
	switch {
	case err != nil:
		_, err = fmt.Fprintf(w, "%s/%s: unreadable (%v)\n", integration.ID, integration.ActionID, err)
	case !ok:
		_, err = fmt.Fprintf(w, "%s/%s: no watermark\n", integration.ID, integration.ActionID)
	default:
		_, err = fmt.Fprintf(w, "%s/%s: %s\n", integration.ID, integration.ActionID, latest.Format(time.RFC3339))
	}
	return err
}

// Reset deletes integration's watermark.
func Reset(ctx context.Context, w io.Writer, store watermark.Store, integration conf.IntegrationSettings) error {
	if err := store.Delete(ctx, integration.ID, integration.ActionID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s/%s: watermark cleared\n", integration.ID, integration.ActionID)
	return err
}

func withStore(ctx context.Context, settings *conf.Settings, fn func(watermark.Store) error) error {
	store, err := watermark.Open(ctx, settings.Watermark, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func selectIntegrations(settings *conf.Settings, ids []string) ([]conf.IntegrationSettings, error) {
	if len(ids) == 0 {
		return settings.Integrations, nil
	}
	selected := make([]conf.IntegrationSettings, 0, len(ids))
	for _, id := range ids {
		integration, ok := settings.Integration(id)
		if !ok {
			return nil, fmt.Errorf("unknown integration %q", id)
		}
		selected = append(selected, integration)
	}
	return selected, nil
}

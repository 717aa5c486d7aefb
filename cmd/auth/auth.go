// Package auth provides the auth command, an eBird credential check.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tphakala/ebirdsync/internal/app"
	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/ebird"
	"github.com/tphakala/ebirdsync/internal/errors"
)

// Command creates the auth command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth [integration-id...]",
		Short: "Check the eBird API key of integrations",
		Long:  `Auth calls the eBird region info endpoint with each integration's API key and reports whether the key is accepted. With no ids every integration is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), cmd.OutOrStdout(), settings, args, nil)
		},
	}

	return cmd
}

// Run checks the credentials of the selected integrations. transport may
// be nil. Rejected keys and failed checks make Run return an error.
func Run(ctx context.Context, w io.Writer, settings *conf.Settings, ids []string, transport http.RoundTripper) error {
	integrations, err := selectIntegrations(settings, ids)
	if err != nil {
		return err
	}

	var failed []error
	for _, integration := range integrations {
		status, err := check(ctx, settings, integration, transport)
		switch {
		case err != nil:
			failed = append(failed, fmt.Errorf("%s: %w", integration.ID, err))
			_, _ = fmt.Fprintf(w, "%s: error %v\n", integration.ID, err)
		case !status.ValidCredentials:
			failed = append(failed, fmt.Errorf("%s: credentials rejected (status %d)", integration.ID, status.StatusCode))
			_, _ = fmt.Fprintf(w, "%s: invalid (status %d)\n", integration.ID, status.StatusCode)
		default:
			_, _ = fmt.Fprintf(w, "%s: valid\n", integration.ID)
		}
	}

	return errors.Join(failed...)
}

func check(ctx context.Context, settings *conf.Settings, integration conf.IntegrationSettings, transport http.RoundTripper) (ebird.CredentialStatus, error) {
	cfg := app.EBirdConfig(settings, integration)
	cfg.Transport = transport

	client, err := ebird.NewClient(cfg)
	if err != nil {
		return ebird.CredentialStatus{}, err
	}
	defer client.Close()

	return client.CheckCredentials(ctx)
}

func selectIntegrations(settings *conf.Settings, ids []string) ([]conf.IntegrationSettings, error) {
	if len(ids) == 0 {
		if len(settings.Integrations) == 0 {
			return nil, fmt.Errorf("no integrations configured")
		}
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

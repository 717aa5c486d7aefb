// Package config provides commands to print and create the configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tphakala/ebirdsync/internal/conf"
)

// Command creates the config command. Without a subcommand it prints the
// effective settings.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Print(cmd.OutOrStdout(), settings)
		},
	}

	cmd.AddCommand(initCommand())
	return cmd
}

func initCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file populated with defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := Init(path, force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// Print writes settings as YAML with credentials masked.
func Print(w io.Writer, settings *conf.Settings) error {
	return conf.WriteYAML(w, settings.Redacted())
}

// Init writes the built-in defaults to path. An existing file is kept
// unless force is set.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}

	settings := conf.Defaults()
	settings.Integrations = []conf.IntegrationSettings{{
		ID:       "example",
		ActionID: conf.DefaultActionID,
		Pull: conf.PullSettings{
			SearchParameter: conf.SearchModeRegion,
			RegionCode:      "US-NY",
			NumDays:         conf.DefaultNumDays,
			MaxLookbackDays: conf.DefaultMaxLookbackDays,
			Locale:          conf.DefaultLocale,
		},
	}}

	return conf.SaveYAMLConfig(filepath.Clean(path), settings)
}

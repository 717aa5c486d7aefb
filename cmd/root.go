package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ebirdsync/cmd/auth"
	configcmd "github.com/tphakala/ebirdsync/cmd/config"
	"github.com/tphakala/ebirdsync/cmd/pull"
	"github.com/tphakala/ebirdsync/cmd/serve"
	"github.com/tphakala/ebirdsync/cmd/state"
	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// globalFlags are parsed before settings are loaded.
type globalFlags struct {
	configFile string
	envFiles   []string
	debug      bool
}

// RootCommand creates and returns the root command. Subcommands share
// settings, which are filled in before any of them runs.
func RootCommand(version string) *cobra.Command {
	settings := &conf.Settings{}
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "ebirdsync",
		Short:         "Incremental eBird observation sync",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, flags)

	subcommands := []*cobra.Command{
		pull.Command(settings),
		auth.Command(settings),
		state.Command(settings),
		configcmd.Command(settings),
		serve.Command(settings, version),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, flags, version)
	}

	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, flags *globalFlags) {
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to config file (default: search standard locations)")
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")
}

// initialize loads settings and sets up logging and error telemetry.
func initialize(settings *conf.Settings, flags *globalFlags, version string) error {
	if err := conf.LoadDotEnv(flags.envFiles...); err != nil {
		return err
	}

	loaded, err := conf.Load(flags.configFile)
	if err != nil {
		return err
	}
	if flags.debug {
		loaded.Debug = true
	}
	if loaded.Debug {
		loaded.Logging.DefaultLevel = "debug"
		if loaded.Logging.Console != nil {
			loaded.Logging.Console.Level = "debug"
		}
	}
	*settings = *loaded

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Sentry.Enabled {
		if err := telemetry.Init(telemetry.OptionsFromSettings(settings.Sentry, version)); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown flushes error telemetry and closes log files. Call it once after
// the root command returns, whether or not it failed.
func Shutdown() error {
	telemetry.Flush(telemetryFlushTimeout)
	return logger.Global().Close()
}

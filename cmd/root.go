package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/birdnet-edge/cmd/collector"
	"github.com/tphakala/birdnet-edge/cmd/devices"
	"github.com/tphakala/birdnet-edge/cmd/initconfig"
	"github.com/tphakala/birdnet-edge/cmd/journal"
	"github.com/tphakala/birdnet-edge/cmd/node"
	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/logger"
	"github.com/tphakala/birdnet-edge/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, version string) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "birdnet-edge",
		Short:         "Edge bird audio node and collector",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding debug flag: %v", err))
	}

	devicesCmd := devices.Command()

	rootCmd.AddCommand(
		node.Command(settings),
		collector.Command(settings),
		journal.Command(settings),
		initconfig.Command(settings),
		devicesCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// device listing needs no configuration
		if cmd.Name() == devicesCmd.Name() {
			return nil
		}
		conf.SetConfigFile(configFile)
		return initialize(settings, version)
	}

	return rootCmd
}

// initialize loads settings and sets up logging and error reporting before
// any subcommand runs
func initialize(settings *conf.Settings, version string) error {
	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	*settings = *loaded

	central, err := logger.NewCentralLogger(settings.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if err := telemetry.InitSentry(settings, version); err != nil {
		// reporting is optional, keep running without it
		central.Module("main").Warn("failed to initialize sentry", logger.Error(err))
	}
	telemetry.InitializeErrorIntegration(settings)

	return nil
}

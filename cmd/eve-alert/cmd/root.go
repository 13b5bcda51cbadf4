package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/service/agent"
	"github.com/oshokin/eve-alert/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// runOptions collects the flags of the root command.
	runOptions agent.Options

	// rootCmd represents the base command running the alert agent.
	rootCmd = &cobra.Command{
		Use:   "eve-alert",
		Short: "Watch EVE Online screen regions and raise alarms.",
		Long: `Watches two screen regions of the EVE Online client for enemy and faction
markers, plays an alarm sound, records statistics and sends notifications.

Detection is started with --start or over the HTTP API (POST /api/v1/run/start).
Settings are read from the YAML file and reloaded when it changes.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := runOptions
			options.ConfigPath = configPath

			return agent.Run(ctx, &options)
		},
	}
)

// Execute runs the eve-alert CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")

	flags := rootCmd.Flags()
	flags.StringVar(&runOptions.HTTPAddress, "http-addr", "", `HTTP API listen address override, "-" disables it`)
	flags.StringVar(&runOptions.GRPCAddress, "grpc-addr", "", `gRPC health listen address override, "-" disables it`)
	flags.BoolVarP(&runOptions.AutoStart, "start", "s", false, "start detection immediately")
	flags.BoolVar(&runOptions.AllowMultiple, "allow-multiple", false, "skip the single instance check")
	flags.StringVar(&runOptions.ExportPath, "export", "", "write statistics to this .csv or .json file on exit")

	rootCmd.AddCommand(validateCmd, testNotifyCmd, healthCmd)
}

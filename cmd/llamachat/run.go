package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"llamachat-hq/relay/pkg/cli"
	"llamachat-hq/relay/pkg/config"
	"llamachat-hq/relay/pkg/server"
	"llamachat-hq/relay/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay server",
	Long: `Start the relay server with the specified configuration.

The configuration file is watched; log level changes apply without a
restart.

Examples:
  # Start with ./config.yaml, or defaults when it does not exist
  llamachat run

  # Start with a custom config
  llamachat run --config /etc/llamachat/config.yaml

  # Override listen address
  llamachat run --listen 0.0.0.0:5000

  # Validate config without starting the server
  llamachat run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(path, err)
	}

	logger, levelVar, err := logging.New(logging.FromConfig(cfg.Logging))
	if err != nil {
		return cli.NewConfigError(path, err)
	}
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg, path)

	srv, err := server.New(cfg, server.Options{
		Version:    Version,
		ConfigPath: path,
		LogLevel:   levelVar,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config, path string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "LlamaChat relay v%s\n", Version)
	if path == "" {
		fmt.Fprintln(out, "✓ No configuration file, using defaults")
	} else {
		fmt.Fprintf(out, "✓ Configuration loaded from %s\n", path)
	}
	fmt.Fprintf(out, "✓ Storage: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Fprintf(out, "✓ Inference endpoint: %s\n", cfg.Inference.Endpoint)
	fmt.Fprintf(out, "✓ Listening on %s (WebSocket %s)\n", cfg.Server.ListenAddress, cfg.WebSocket.Path)
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}

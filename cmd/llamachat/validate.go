package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"llamachat-hq/relay/pkg/cli"
	tlsconfig "llamachat-hq/relay/pkg/security/tls"
	"llamachat-hq/relay/pkg/server"
)

var validateFlags struct {
	checkStore bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file with defaults and environment overrides
applied, and report every validation error at once.

Examples:
  llamachat validate --config /etc/llamachat/config.yaml

  # Also open the configured store
  llamachat validate --check-store`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateFlags.checkStore, "check-store", false, "open and ping the configured store")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if path == "" {
		fmt.Fprintln(out, "✓ No configuration file, defaults are valid")
	} else {
		fmt.Fprintf(out, "✓ %s is valid\n", path)
	}

	if verbose {
		fmt.Fprintf(out, "  listen:    %s\n", cfg.Server.ListenAddress)
		fmt.Fprintf(out, "  inference: %s\n", cfg.Inference.Endpoint)
		fmt.Fprintf(out, "  storage:   %s %s\n", cfg.Storage.Driver, cfg.Storage.Path)
		fmt.Fprintf(out, "  quota:     enforce=%t reset=%q\n", cfg.Quota.Enforce, cfg.Quota.ResetSchedule)
	}

	if cfg.Server.TLS.Enabled {
		if _, _, err := tlsconfig.NewServerConfig(cfg.Server.TLS); err != nil {
			return cli.NewConfigError(path, err)
		}
		fmt.Fprintf(out, "✓ TLS key pair %s is valid\n", cfg.Server.TLS.CertFile)
	}

	if !validateFlags.checkStore {
		return nil
	}
	store, err := server.OpenStore(cfg.Storage)
	if err != nil {
		return cli.NewCommandError("validate", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return cli.NewCommandError("validate", fmt.Errorf("store ping failed: %w", err))
	}
	fmt.Fprintln(out, "✓ Store reachable")
	return nil
}

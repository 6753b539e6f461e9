package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"llamachat-hq/relay/pkg/cli"
	"llamachat-hq/relay/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "llamachat",
	Short: "LlamaChat relay server",
	Long: `LlamaChat is a multi-user chat relay in front of a local Ollama-style
generation backend.

It handles accounts and sessions, per-user request quotas, a blocked
keyword filter and conversation history, and streams every generation to
the HTTP caller and to the user's WebSocket connections at the same time.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the configuration named by --config. The default path
// may be absent, in which case defaults and environment overrides apply.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := cfgFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, path, cli.NewConfigError(path, err)
	}
	config.SetConfig(cfg)
	return cfg, path, nil
}

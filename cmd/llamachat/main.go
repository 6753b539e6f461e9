// llamachat runs the chat relay: it authenticates users, keeps their
// conversations and streams generations from an Ollama-style backend to
// both the HTTP caller and the user's WebSocket connections.
//
// Usage:
//
//	# Start the server with ./config.yaml (or defaults when absent)
//	llamachat run
//
//	# Check a configuration file
//	llamachat validate --config /etc/llamachat/config.yaml
//
//	# Manage accounts directly in the store
//	llamachat users list
//	llamachat users create alice --admin
//	llamachat users set-quota alice 500
package main

import (
	"fmt"
	"os"

	"llamachat-hq/relay/pkg/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

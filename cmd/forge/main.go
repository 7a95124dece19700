// Package main is the forge backend: an agent-driven coding assistant
// serving a browser IDE over WebSocket and HTTP.
//
// Start the server against a local directory:
//
//	forge serve --dir ~/src/myproject
//
// Or against a remote host over SSH:
//
//	forge serve --ssh dev@build-box:/home/dev/myproject --key ~/.ssh/id_ed25519
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "forge",
		Short:        "Forge - agent backend for the browser IDE",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

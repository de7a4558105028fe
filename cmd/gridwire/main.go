package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gridwire",
		Short: "Server-authoritative shared grid world over WebSocket",
		Long: `Gridwire runs a persistent session layer for a shared grid world.

Clients connect over WebSocket, join the world, and move their
player around a bounded grid. The server validates every intent,
applies it to the authoritative world, and broadcasts versioned
updates to all connected sessions. Dropped connections resume
within a grace window without losing the player.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		loadCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

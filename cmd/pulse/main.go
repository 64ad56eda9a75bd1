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
		Use:   "pulse",
		Short: "Session-scoped reactive state over WebSocket",
		Long: `Pulse keeps per-session server state in reactive cells and
mirrors every change to the connected client over WebSocket.

Cells are declared once and hold an isolated value per session.
Client events flow through a middleware chain into handlers and
cell bindings; changed values flow back out in debounced update
messages. State can be persisted across reconnects.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

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
		Use:   "boardstream",
		Short: "Realtime synchronization engine for collaborative task boards",
		Long: `Boardstream fans out task board mutations to every connected
client over WebSocket: ordered per-channel event delivery, presence
tracking, typing indicators and fractional-position task ordering.

Clients authenticate with a JWT, subscribe to project and task
channels, and receive every committed change with a per-channel
sequence number. Multiple server processes form one broadcast
domain over a redis relay.`,
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

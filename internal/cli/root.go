// Package cli implements the auctiond command-line entry points: serving
// the HTTP API and running one-off administrative mutations against the
// durable state file, with each subcommand registered from its own
// init().
package cli

import (
	"github.com/spf13/cobra"
)

// rootCmd is the auctiond command-line root.
var rootCmd = &cobra.Command{
	Use:   "auctiond",
	Short: "GPU credit auction scheduler daemon",
	Long: `auctiond allocates a fixed pool of GPUs across a cluster of users by
running a per-hour ascending credit auction. Run "auctiond serve" to start
the HTTP API, or use the "admin" subcommands against the durable state
file without a running server.`,
}

// Execute runs the root command, returning any error for main to report.
func Execute() error {
	return rootCmd.Execute()
}

// Package cli provides the qualifyr CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "qualifyr",
	Short: "qualifyr - privileged session broker for admin impersonation",
	Long: `qualifyr brokers time-boxed admin impersonation sessions that
require the impersonated user's explicit consent. Every state
transition is audited and pushed to the parties in real time.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Package commands implements the broker CLI: serve, migrate, genconfig.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "broker",
	Short: "GCP Token Broker - mediated OAuth2 token issuance",
	Long: `broker runs the GCP Token Broker gRPC service: it authenticates
callers via Kerberos, issues and renews session tokens, and mints/caches
short-lived OAuth2 access tokens on their behalf.

All configuration is read from APP_SETTING_<NAME> environment variables;
there is no config file. Use "broker genconfig" to print the full reference.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(genconfigCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("broker %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

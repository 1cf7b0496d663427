// Package commands implements the CLI commands for the shuttle upload client.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/pkg/apiclient"
	"github.com/shuttleup/shuttle/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile   string
	serverURL string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shuttle",
	Short: "Shuttle - Resumable file upload client",
	Long: `shuttle uploads files to a Shuttle server in resumable chunks.

Transfers survive network failures and restarts: interrupted uploads
pick up where they left off, failed chunks are retried with backoff,
and the server verifies the assembled file before committing it.

Use "shuttle [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/shuttle/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (overrides config)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the shared configuration file, honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.MustLoad(cfgFile)
}

// newClient builds an API client for the configured server. The --server
// flag wins over the config file.
func newClient(cfg *config.Config) *apiclient.Client {
	base := serverURL
	if base == "" {
		base = cfg.Client.BaseURL
	}
	return apiclient.New(base)
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale upload sessions on the server",
	Long: `Ask the server to sweep stale upload sessions.

Sessions that have been sitting idle in the uploading state longer than
the server's stale TTL are marked failed and their partial data is
removed. Active uploads are not touched.

Examples:
  shuttle cleanup`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cleaned, err := newClient(cfg).Cleanup(cmd.Context())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Printf("Cleaned %d stale upload(s)\n", cleaned)
	return nil
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/internal/cli/prompt"
)

var abortForce bool

var abortCmd = &cobra.Command{
	Use:   "abort <upload-id>",
	Short: "Abort an upload session",
	Long: `Abort an upload session and delete its partial data on the server.

This removes the session record, its chunk receipts, and the partially
assembled file. An aborted upload cannot be resumed.

Examples:
  # Abort with confirmation prompt
  shuttle abort 4f3c2a1e-8b6d-4c9a-9f0e-2d7b5a8c1e3f

  # Skip confirmation
  shuttle abort 4f3c2a1e-8b6d-4c9a-9f0e-2d7b5a8c1e3f --force`,
	Args: cobra.ExactArgs(1),
	RunE: runAbort,
}

func init() {
	abortCmd.Flags().BoolVarP(&abortForce, "force", "f", false, "Skip confirmation prompt")
}

func runAbort(cmd *cobra.Command, args []string) error {
	uploadID := args[0]

	confirmed, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Abort upload %s and delete its partial data?", uploadID),
		abortForce,
	)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted nothing")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := newClient(cfg).Abort(cmd.Context(), uploadID); err != nil {
		return fmt.Errorf("failed to abort upload: %w", err)
	}

	fmt.Printf("Upload %s aborted\n", uploadID)
	return nil
}

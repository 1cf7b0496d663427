package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/internal/bytesize"
	"github.com/shuttleup/shuttle/internal/cli/output"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status <upload-id>",
	Short: "Show the status of an upload session",
	Long: `Display the server-side status of one upload session.

Shows the session state, how many chunks the server has received, and
the verified checksum once the upload has completed.

Examples:
  # Show status as table
  shuttle status 4f3c2a1e-8b6d-4c9a-9f0e-2d7b5a8c1e3f

  # Show as JSON
  shuttle status 4f3c2a1e-8b6d-4c9a-9f0e-2d7b5a8c1e3f -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	status, err := newClient(cfg).Status(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get upload status: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		pairs := [][2]string{
			{"Upload ID", status.UploadID},
			{"Filename", status.Filename},
			{"Status", status.Status},
			{"Size", bytesize.ByteSize(status.TotalSize).String()},
			{"Chunks", fmt.Sprintf("%d/%d", len(status.UploadedChunks), status.TotalChunks)},
			{"Progress", fmt.Sprintf("%.1f%%", status.ProgressPct)},
		}
		if status.FinalHash != "" {
			pairs = append(pairs, [2]string{"SHA-256", status.FinalHash})
		}
		if status.FailureReason != "" {
			pairs = append(pairs, [2]string{"Failure", status.FailureReason})
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}

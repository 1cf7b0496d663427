package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/internal/bytesize"
	"github.com/shuttleup/shuttle/internal/cli/output"
	"github.com/shuttleup/shuttle/internal/cli/timeutil"
	"github.com/shuttleup/shuttle/pkg/apiclient"
)

var (
	listOutput string
	listStatus string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload sessions",
	Long: `List upload sessions on the Shuttle server.

Examples:
  # List all sessions as table
  shuttle list

  # Only sessions still uploading
  shuttle list --status UPLOADING

  # List as JSON
  shuttle list -o json

  # List as YAML
  shuttle list -o yaml`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format (table|json|yaml)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (UPLOADING|PROCESSING|COMPLETED|FAILED)")
}

// UploadList is a list of upload sessions for table rendering.
type UploadList []apiclient.UploadSummary

// Headers implements TableRenderer.
func (ul UploadList) Headers() []string {
	return []string{"ID", "FILENAME", "STATUS", "SIZE", "CHUNKS", "PROGRESS", "UPDATED"}
}

// Rows implements TableRenderer.
func (ul UploadList) Rows() [][]string {
	rows := make([][]string, 0, len(ul))
	for _, u := range ul {
		rows = append(rows, []string{
			u.UploadID,
			u.Filename,
			u.Status,
			bytesize.ByteSize(u.TotalSize).String(),
			fmt.Sprintf("%d/%d", u.ReceivedChunks, u.TotalChunks),
			fmt.Sprintf("%.1f%%", u.ProgressPct),
			timeutil.FormatAge(u.UpdatedAt) + " ago",
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(listOutput)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	uploads, err := newClient(cfg).List(cmd.Context(), listStatus)
	if err != nil {
		return fmt.Errorf("failed to list uploads: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, uploads)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, uploads)
	default:
		if len(uploads) == 0 {
			fmt.Println("No upload sessions found")
			return nil
		}
		return output.PrintTable(os.Stdout, UploadList(uploads))
	}
}

package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/internal/cli/output"
	"github.com/shuttleup/shuttle/pkg/apiclient"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the Shuttle upload server.

This command checks the server health by calling the health endpoint
and displays process state and per-dependency health information.

Examples:
  # Check status (uses default settings)
  shuttled status

  # Check status with custom API port
  shuttled status --api-port 4000

  # Output as JSON
  shuttled status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/shuttle/shuttled.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 4000, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running bool                             `json:"running" yaml:"running"`
	PID     int                              `json:"pid,omitempty" yaml:"pid,omitempty"`
	Healthy bool                             `json:"healthy" yaml:"healthy"`
	Message string                           `json:"message" yaml:"message"`
	Checks  map[string]apiclient.HealthCheck `json:"checks,omitempty" yaml:"checks,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := ServerStatus{
		Running: false,
		Healthy: false,
		Message: "Server is not running",
	}

	// Use default PID file if not specified
	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check PID file first
	pidData, err := os.ReadFile(pidPath)
	if err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
		if err == nil {
			// On Unix, FindProcess always succeeds; signal 0 probes the process
			process, err := os.FindProcess(pid)
			if err == nil && process.Signal(syscall.Signal(0)) == nil {
				status.Running = true
				status.PID = pid
			}
		}
	}

	// Check health endpoint (works for both daemon and foreground mode)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := apiclient.New(fmt.Sprintf("http://localhost:%d", statusAPIPort))
	report, err := client.Health(ctx)
	if err == nil {
		status.Running = true
		status.Healthy = report.Status == "healthy"
		status.Checks = report.Checks
		if status.Healthy {
			status.Message = "Server is running and healthy"
		} else {
			status.Message = "Server is running but degraded"
		}
	} else if status.Running {
		// PID file says running but health check failed
		status.Message = "Server process exists but health check failed"
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status ServerStatus) {
	fmt.Println()
	fmt.Println("Shuttle Server Status")
	fmt.Println("=====================")
	fmt.Println()

	if status.Running {
		if status.Healthy {
			fmt.Printf("  Status:     \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:     \033[33m● Running (degraded)\033[0m\n")
		}
		if status.PID != 0 {
			fmt.Printf("  PID:        %d\n", status.PID)
		}

		names := make([]string, 0, len(status.Checks))
		for name := range status.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			check := status.Checks[name]
			if check.Error != "" {
				fmt.Printf("  %-10s  %s (%s)\n", name+":", check.Status, check.Error)
			} else {
				fmt.Printf("  %-10s  %s (%s)\n", name+":", check.Status, check.Latency)
			}
		}
	} else {
		fmt.Printf("  Status:     \033[31m○ Stopped\033[0m\n")
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}

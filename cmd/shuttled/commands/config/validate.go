package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the Shuttle configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  shuttled config validate

  # Validate specific config file
  shuttled config validate --config /etc/shuttle/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	// Load and validate configuration
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Additional validation checks
	var warnings []string

	if cfg.Server.UploadsDir == "" {
		warnings = append(warnings, "Uploads directory not configured - blobs will land in the default data dir")
	}

	if cfg.Server.StaleTTL < cfg.Client.RetryBaseDelay*16 {
		warnings = append(warnings, "stale_ttl is close to the client retry window - cleanup may race active uploads")
	}

	// Print results
	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Database type:   %s\n", cfg.Database.Type)
	fmt.Printf("  API port:        %d\n", cfg.Server.Port)
	fmt.Printf("  Uploads dir:     %s\n", cfg.Server.UploadsDir)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

// Package cmd holds the auxiliary CLI subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pyrowatch/pyrowatch/internal/config"
)

// CreateValidateCmd returns the validate subcommand. It checks the layered
// configuration and the model file without starting the service, for use in
// container health checks and CI.
func CreateValidateCmd() *cobra.Command {
	var configDir string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and model availability",
		Long:  `Loads the layered YAML configuration, applies environment overrides, checks value ranges, and verifies that the configured model file exists.`,
		Run: func(cmd *cobra.Command, args []string) {
			settings, err := config.Load(configDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
				os.Exit(1)
			}

			if _, err := os.Stat(settings.Yolo.ModelPath); err != nil {
				fmt.Fprintf(os.Stderr, "model file not found: %s\n", settings.Yolo.ModelPath)
				os.Exit(1)
			}

			fmt.Printf("configuration ok\n")
			fmt.Printf("  api:    %s\n", settings.Server.Addr())
			if settings.WebUI.Enabled {
				fmt.Printf("  webui:  %s\n", settings.WebUI.Addr())
			}
			fmt.Printf("  model:  %s\n", settings.Yolo.ModelPath)
			fmt.Printf("  classes: %v\n", settings.Yolo.ClassNames)
		},
	}

	validateCmd.Flags().StringVarP(&configDir, "config-dir", "c", "config", "Directory with default.yaml and <APP_ENV>.yaml")
	return validateCmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"SweepTrader/internal/di"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the driver, ops API, quote stream and trade-close consumers",
	RunE:  runApp,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()

	// Blocks until SIGINT/SIGTERM or a fatal component error.
	return app.Run(cmd.Context())
}

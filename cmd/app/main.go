package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"SweepTrader/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sweeptrader",
	Short: "Asian-range liquidity sweep reversal engine",
	Long: `sweeptrader runs the per-session sweep/reversal state machine against a
broker bridge.

Examples:
  sweeptrader run --config config/config.yaml
  sweeptrader evaluate --symbol XAUUSD
  sweeptrader migrate`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
}

// loadConfig reads the YAML file with SWEEP_* environment overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"SweepTrader/internal/di"
	"SweepTrader/pkg/util"
)

var evaluateSymbol string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run a single tick for one symbol and print the step result",
	Long: `Run one evaluation of today's session under the session lock, exactly as
the driver would, and print the StepResult as JSON.

Examples:
  sweeptrader evaluate --symbol XAUUSD`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evaluateSymbol, "symbol", "", "instrument to evaluate (default: first driver symbol)")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	symbol := util.NormalizeSymbol(evaluateSymbol)
	if symbol == "" {
		symbol = cfg.Driver.Symbols[0]
	}
	if _, err := cfg.Strategy.Instrument(symbol); err != nil {
		return err
	}

	engine, cleanup, err := di.InitializeEngine(cfg)
	if err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}
	defer cleanup()

	res, err := engine.Evaluate(cmd.Context(), symbol)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", symbol, err)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

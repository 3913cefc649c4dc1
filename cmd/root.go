package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transferdesk/slipcheck/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "slipcheck",
	Short: "Bank-transfer slip validation and reconciliation",
	Long:  "Runs OCR over uploaded bank-transfer slips, classifies them, matches the transfer reference and reconciles the amount, and tracks each slip through staff review.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

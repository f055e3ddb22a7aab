package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "risk-engine",
	Short: "Worker-safety risk scoring engine",
	Long:  "Computes task, location, and project risk scores from site conditions and actor history, ranks them per tenant, and publishes ranking changes to integration webhooks.",
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

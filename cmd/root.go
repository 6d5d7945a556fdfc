package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fedmatch",
	Short: "Opportunity reconciliation and matching engine",
	Long:  "Ingests government contract notices, resolves amendments, scores fit against the company rubric, searches historical records for related work, and walks candidate matches through AI scoring and human review.",
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

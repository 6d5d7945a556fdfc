package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/evaluator"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score unscored matches for quality",
	Long: `Asks the AI collaborator to judge each unscored match on a 0-100 scale:
how likely the opportunity and the historical record represent the same or
directly related work. Invalid responses leave the score null and the match
stays in the queue for the next run.`,
	RunE: runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.Int("limit", 100, "maximum matches to evaluate")

	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "evaluate"))

	client, err := newAnthropicClient()
	if err != nil {
		return err
	}
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	limit, _ := cmd.Flags().GetInt("limit")

	ev := evaluator.New(st, client, newNotifier(), cfg.Anthropic.SonnetModel, cfg.Anthropic.CallTimeout, cfg.Evaluator)
	scored, failed, err := ev.EvaluateBatch(ctx, limit)
	if err != nil {
		return err
	}

	log.Info("evaluation complete", zap.Int("scored", scored), zap.Int("skipped_or_failed", failed))
	return nil
}

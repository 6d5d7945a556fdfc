package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/scorer"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Assign AI fit scores to unscored opportunities",
	Long: `Scores every opportunity that lacks a current fit score against the
company rubric, including amendments whose inherited score went stale.
Re-running is safe; already scored opportunities are skipped.`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.Int("limit", 0, "maximum opportunities to score (0=use config default)")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "score"))

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Scorer.BatchLimit
	}

	client, err := newAnthropicClient()
	if err != nil {
		return err
	}
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	rubric, err := scorer.LoadRubric(cfg.Scorer.RubricPath)
	if err != nil {
		return err
	}

	sc := scorer.New(st, client, newNotifier(), rubric, cfg.Anthropic.HaikuModel, cfg.Anthropic.CallTimeout)
	scored, failed, err := sc.ScoreBatch(ctx, limit)
	if err != nil {
		return err
	}

	log.Info("scoring complete", zap.Int("scored", scored), zap.Int("skipped_or_failed", failed))
	return nil
}

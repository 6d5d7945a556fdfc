package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/search"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Search historical records for candidate matches",
	Long: `Runs the fixed strategy set against GovWin for every scored opportunity
at or above the fit threshold that has not been searched yet. Each strategy
attempt is logged; a record surfaced by multiple strategies yields one match
credited to the first strategy in the fixed order.

Examples:
  # Search everything above the configured threshold
  match

  # Search one notice regardless of prior attempts
  match --notice abc123`,
	RunE: runMatch,
}

func init() {
	f := matchCmd.Flags()
	f.Int("limit", 100, "maximum opportunities to search")
	f.String("notice", "", "search a single opportunity by notice ID")

	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "match"))

	client, err := newGovWinClient()
	if err != nil {
		return err
	}
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	orch := search.New(st, client, newNotifier(), cfg.Search)

	noticeID, _ := cmd.Flags().GetString("notice")
	if noticeID != "" {
		opp, err := st.GetOpportunityByNoticeID(ctx, noticeID)
		if err != nil {
			return err
		}
		if opp == nil {
			return eris.Errorf("match: notice %s not found", noticeID)
		}
		res, err := orch.SearchOpportunity(ctx, opp)
		if err != nil {
			return err
		}
		log.Info("search complete",
			zap.String("notice_id", noticeID),
			zap.Int("new_matches", len(res.NewMatches)),
			zap.Int("strategies_failed", res.StrategiesFailed),
		)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	results, err := orch.SearchBatch(ctx, limit)
	if err != nil {
		return err
	}

	newMatches, failed := 0, 0
	for _, r := range results {
		newMatches += len(r.NewMatches)
		failed += r.StrategiesFailed
	}
	log.Info("batch search complete",
		zap.Int("opportunities", len(results)),
		zap.Int("new_matches", newMatches),
		zap.Int("strategies_failed", failed),
	)
	return nil
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sfpkg "github.com/sells-group/fedmatch/pkg/salesforce"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push bid-worthy opportunities to Salesforce",
	Long: `Exports current opportunities that are recommended for bid or carry a
confirmed match. Records are upserted on the notice ID, so repeated exports
update in place.`,
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.Int("limit", 100, "maximum opportunities to export")
	f.Bool("dry-run", false, "list what would be exported without calling Salesforce")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "export"))

	limit, _ := cmd.Flags().GetInt("limit")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	opps, err := st.ListOpportunitiesForExport(ctx, limit)
	if err != nil {
		return err
	}
	if len(opps) == 0 {
		log.Info("nothing to export")
		return nil
	}

	if dryRun {
		for i := range opps {
			log.Info("would export",
				zap.String("notice_id", opps[i].NoticeID),
				zap.String("title", opps[i].Title),
				zap.String("recommend_bid", string(opps[i].RecommendBid)),
			)
		}
		return nil
	}

	sf, err := initSalesforce()
	if err != nil {
		return err
	}

	results, err := sfpkg.BulkUpsertOpportunities(ctx, sf, opps)
	if err != nil {
		return err
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
			continue
		}
		failed++
		log.Warn("export failed", zap.String("sf_id", r.ID), zap.Strings("errors", r.Errors))
	}
	log.Info("export complete", zap.Int("succeeded", succeeded), zap.Int("failed", failed))

	if failed > 0 {
		return eris.Errorf("export: %d of %d records failed", failed, len(results))
	}
	return nil
}

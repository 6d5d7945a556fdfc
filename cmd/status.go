package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/fedmatch/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline counts",
	Long:  "Displays opportunity, match, and search-attempt counts across the pipeline stages.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx, cfg.Search.FitThreshold)
		if err != nil {
			return err
		}

		formatStats(os.Stdout, stats, cfg.Search.FitThreshold)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatStats writes a tabular representation of pipeline counts to w.
func formatStats(out io.Writer, stats *store.Stats, threshold float64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tCOUNT")
	_, _ = fmt.Fprintln(w, "-----\t-----")
	_, _ = fmt.Fprintf(w, "opportunities\t%d\n", stats.Opportunities)
	_, _ = fmt.Fprintf(w, "needing score\t%d\n", stats.NeedingScore)
	_, _ = fmt.Fprintf(w, "above threshold (%.1f)\t%d\n", threshold, stats.AboveThreshold)
	_, _ = fmt.Fprintf(w, "historical records\t%d\n", stats.HistoricalRecords)
	_, _ = fmt.Fprintf(w, "matches\t%d\n", stats.Matches)
	_, _ = fmt.Fprintf(w, "unscored matches\t%d\n", stats.UnscoredMatches)
	for status, n := range stats.MatchesByStatus {
		_, _ = fmt.Fprintf(w, "matches %s\t%d\n", status, n)
	}
	_, _ = fmt.Fprintf(w, "search attempts\t%d\n", stats.SearchAttempts)
	_ = w.Flush()
}

package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/resilience"
	"github.com/sells-group/fedmatch/internal/resolver"
	"github.com/sells-group/fedmatch/pkg/sam"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch notices and resolve them into the pipeline",
	Long: `Fetches opportunity notices from SAM.gov for a posted-date window and
resolves each one: new notices are stored, reposts of known notices are
dropped as duplicates, and amendments supersede their predecessors while
inheriting the prior score as stale.

Examples:
  # Last 7 days of environmental remediation notices
  ingest --days 7 --naics 562910

  # Explicit window with full description text
  ingest --from 2025-02-01 --to 2025-02-28 --descriptions`,
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.Int("days", 7, "posted-date window ending today")
	f.String("from", "", "posted-from date (YYYY-MM-DD, overrides --days)")
	f.String("to", "", "posted-to date (YYYY-MM-DD, default today)")
	f.String("naics", "", "NAICS code filter")
	f.String("ccode", "", "classification code filter")
	f.Int("limit", 0, "maximum notices to fetch (0=all)")
	f.Bool("descriptions", true, "fetch full description text per notice")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "ingest"))

	q, err := ingestQuery(cmd)
	if err != nil {
		return err
	}

	client, err := newSAMClient()
	if err != nil {
		return err
	}
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	notices, err := client.Fetch(ctx, *q)
	if err != nil {
		return eris.Wrap(err, "ingest: fetch notices")
	}
	log.Info("notices fetched", zap.Int("count", len(notices)))

	res := resolver.New(st, cfg.Resolver)
	counts := map[resolver.Disposition]int{}
	invalid := 0
	for _, n := range notices {
		r, err := res.Resolve(ctx, n)
		if err != nil {
			if resilience.IsValidation(err) {
				log.Warn("skipping malformed notice",
					zap.String("notice_id", n.NoticeID), zap.Error(err))
				invalid++
				continue
			}
			return eris.Wrapf(err, "ingest: resolve notice %s", n.NoticeID)
		}
		counts[r.Disposition]++
	}

	log.Info("ingest complete",
		zap.Int("new", counts[resolver.DispositionNew]),
		zap.Int("amendments", counts[resolver.DispositionAmendment]),
		zap.Int("duplicates", counts[resolver.DispositionDuplicate]),
		zap.Int("invalid", invalid),
	)
	return nil
}

func ingestQuery(cmd *cobra.Command) (*sam.FetchQuery, error) {
	f := cmd.Flags()
	days, _ := f.GetInt("days")
	fromStr, _ := f.GetString("from")
	toStr, _ := f.GetString("to")
	naics, _ := f.GetString("naics")
	ccode, _ := f.GetString("ccode")
	limit, _ := f.GetInt("limit")
	withDesc, _ := f.GetBool("descriptions")

	q := &sam.FetchQuery{
		NAICSCode:          naics,
		ClassificationCode: ccode,
		MaxRecords:         limit,
		WithDescriptions:   withDesc,
		PostedTo:           time.Now(),
	}
	q.PostedFrom = q.PostedTo.AddDate(0, 0, -days)

	if fromStr != "" {
		t, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: parse --from")
		}
		q.PostedFrom = t
	}
	if toStr != "" {
		t, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: parse --to")
		}
		q.PostedTo = t
	}
	return q, nil
}

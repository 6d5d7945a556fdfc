// Package search runs the fixed strategy set against the historical-records
// collaborator and persists candidate matches.
package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fedmatch/internal/config"
	"github.com/sells-group/fedmatch/internal/events"
	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/store"
	"github.com/sells-group/fedmatch/pkg/govwin"
)

// Orchestrator fans the search strategies out against GovWin and records
// matches and attempt audit rows.
type Orchestrator struct {
	store    store.Store
	client   govwin.Client
	notifier *events.Notifier
	cfg      config.SearchConfig
}

// New creates an Orchestrator. notifier may be nil.
func New(st store.Store, client govwin.Client, notifier *events.Notifier, cfg config.SearchConfig) *Orchestrator {
	if cfg.MaxResultsPerStrategy <= 0 {
		cfg.MaxResultsPerStrategy = 10
	}
	return &Orchestrator{store: st, client: client, notifier: notifier, cfg: cfg}
}

// Result summarizes one opportunity's search run.
type Result struct {
	OpportunityID    string        `json:"opportunity_id"`
	NewMatches       []model.Match `json:"new_matches"`
	StrategiesRun    int           `json:"strategies_run"`
	StrategiesFailed int           `json:"strategies_failed"`
}

// strategyQuery pairs a strategy with its collaborator query.
type strategyQuery struct {
	strategy model.SearchStrategy
	query    govwin.SearchQuery
}

// queries builds the runnable strategies for an opportunity, in fixed order.
// Strategies whose inputs are missing (no usable agency name, blank title)
// are omitted rather than sent as empty searches.
func (o *Orchestrator) queries(opp *model.Opportunity) []strategyQuery {
	agency := AgencyKeyword(opp.Department)
	keywords := TitleKeywords(opp.Title, o.cfg.TitleKeywords)
	code := opp.ClassificationCode
	maxResults := o.cfg.MaxResultsPerStrategy

	var out []strategyQuery
	for _, strat := range model.AllSearchStrategies() {
		var q govwin.SearchQuery
		switch strat {
		case model.StrategyDepartmentKeyword:
			q = govwin.SearchQuery{Keyword: agency}
		case model.StrategyClassificationCode:
			q = govwin.SearchQuery{ClassificationCode: code}
		case model.StrategyTitleKeywords:
			q = govwin.SearchQuery{Keyword: keywords}
		case model.StrategyDeptClassification:
			q = govwin.SearchQuery{Keyword: agency, ClassificationCode: code}
		case model.StrategyTitleClassification:
			q = govwin.SearchQuery{Keyword: keywords, ClassificationCode: code}
		}
		if q.Keyword == "" && q.ClassificationCode == "" {
			continue
		}
		if strat == model.StrategyDeptClassification || strat == model.StrategyTitleClassification {
			// Combined strategies need both halves to add anything.
			if q.Keyword == "" || q.ClassificationCode == "" {
				continue
			}
		}
		q.MaxResults = maxResults
		out = append(out, strategyQuery{strategy: strat, query: q})
	}
	return out
}

// SearchOpportunity runs every applicable strategy concurrently, logs one
// SearchAttempt per strategy (failures included), and creates one pending
// match per previously unseen record. Merge order follows the fixed strategy
// order, so the first strategy to surface a record is the one credited on the
// match regardless of goroutine timing.
func (o *Orchestrator) SearchOpportunity(ctx context.Context, opp *model.Opportunity) (*Result, error) {
	log := zap.L().With(
		zap.String("component", "search"),
		zap.String("notice_id", opp.NoticeID),
	)

	qs := o.queries(opp)
	res := &Result{OpportunityID: opp.ID, StrategiesRun: len(qs)}
	if len(qs) == 0 {
		// Log a sentinel attempt so the opportunity still counts as searched
		// and does not re-enter every batch run.
		log.Warn("no runnable search strategies for opportunity")
		attempt := &model.SearchAttempt{
			OpportunityID: opp.ID,
			Strategy:      model.StrategyNone,
			ErrorMessage:  "no runnable strategies",
		}
		if err := o.store.AppendSearchAttempt(ctx, attempt); err != nil {
			return nil, eris.Wrap(err, "search: log skipped run")
		}
		return res, nil
	}

	slots := make([][]govwin.Opportunity, len(qs))
	failures := make([]bool, len(qs))

	g, gctx := errgroup.WithContext(ctx)
	for i, sq := range qs {
		g.Go(func() error {
			start := time.Now()
			records, err := o.client.Search(gctx, sq.query)

			attempt := &model.SearchAttempt{
				OpportunityID: opp.ID,
				Strategy:      sq.strategy,
				Params:        marshalParams(sq.query),
				ResultCount:   len(records),
				Elapsed:       time.Since(start),
			}
			if err != nil {
				// A failed strategy is recorded and the others keep going.
				attempt.ErrorMessage = err.Error()
				failures[i] = true
				log.Warn("search strategy failed",
					zap.String("strategy", string(sq.strategy)), zap.Error(err))
			} else {
				slots[i] = records
			}

			if aerr := o.store.AppendSearchAttempt(gctx, attempt); aerr != nil {
				return eris.Wrapf(aerr, "search: log attempt %s", sq.strategy)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, failed := range failures {
		if failed {
			res.StrategiesFailed++
		}
	}

	// Merge in strategy order with first-strategy-wins dedup.
	seen := make(map[string]struct{})
	for i, sq := range qs {
		for _, rec := range slots[i] {
			extID := rec.ExternalID()
			if extID == "" {
				continue
			}
			if _, dup := seen[extID]; dup {
				continue
			}
			seen[extID] = struct{}{}

			m, err := o.recordMatch(ctx, opp, sq.strategy, rec)
			if err != nil {
				return nil, err
			}
			if m != nil {
				res.NewMatches = append(res.NewMatches, *m)
			}
		}
	}

	log.Info("search complete",
		zap.Int("strategies_run", res.StrategiesRun),
		zap.Int("strategies_failed", res.StrategiesFailed),
		zap.Int("new_matches", len(res.NewMatches)),
	)
	return res, nil
}

// recordMatch upserts the historical record and creates a pending match for
// it. Returns nil when the pair already existed.
func (o *Orchestrator) recordMatch(ctx context.Context, opp *model.Opportunity, strategy model.SearchStrategy, rec govwin.Opportunity) (*model.Match, error) {
	stored, err := o.store.UpsertHistoricalRecord(ctx, &model.HistoricalRecord{
		ExternalID:         rec.ExternalID(),
		Title:              rec.Title,
		GovEntity:          rec.GovEntity.Name,
		ClassificationCode: rec.ClassificationCode,
		Description:        rec.Description,
		Value:              rec.Value,
		PostedDate:         rec.PostedDate,
		AwardDate:          rec.AwardDate,
	})
	if err != nil {
		return nil, eris.Wrap(err, "search: upsert record")
	}

	m := &model.Match{
		OpportunityID: opp.ID,
		RecordID:      stored.ID,
		Strategy:      strategy,
		Status:        model.MatchPendingReview,
	}
	created, err := o.store.CreateMatch(ctx, m)
	if err != nil {
		return nil, eris.Wrap(err, "search: create match")
	}
	if !created {
		return nil, nil
	}
	o.notifier.Emit(ctx, events.EventMatchCreated, m)
	return m, nil
}

// SearchBatch searches every unsearched opportunity at or above the fit
// threshold, up to limit.
func (o *Orchestrator) SearchBatch(ctx context.Context, limit int) ([]Result, error) {
	opps, err := o.store.ListOpportunitiesForSearch(ctx, o.cfg.FitThreshold, limit)
	if err != nil {
		return nil, eris.Wrap(err, "search: list batch")
	}

	results := make([]Result, 0, len(opps))
	for i := range opps {
		r, err := o.SearchOpportunity(ctx, &opps[i])
		if err != nil {
			return results, err
		}
		results = append(results, *r)
	}
	return results, nil
}

func marshalParams(q govwin.SearchQuery) string {
	b, err := json.Marshal(q)
	if err != nil {
		return "{}"
	}
	return string(b)
}

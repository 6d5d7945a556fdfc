// Package evaluator scores candidate matches for quality on a 0-100 scale
// using the AI collaborator.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/fedmatch/internal/config"
	"github.com/sells-group/fedmatch/internal/events"
	"github.com/sells-group/fedmatch/internal/llmtext"
	"github.com/sells-group/fedmatch/internal/resilience"
	"github.com/sells-group/fedmatch/internal/store"
	"github.com/sells-group/fedmatch/pkg/anthropic"
)

// Evaluator assigns match-quality scores to pending matches.
type Evaluator struct {
	store       store.Store
	client      anthropic.Client
	notifier    *events.Notifier
	model       string
	callTimeout time.Duration
	concurrency int
	limiter     *rate.Limiter
}

// New creates an Evaluator. notifier may be nil.
func New(st store.Store, client anthropic.Client, notifier *events.Notifier, modelID string, callTimeout time.Duration, cfg config.EvaluatorConfig) *Evaluator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &Evaluator{
		store:       st,
		client:      client,
		notifier:    notifier,
		model:       modelID,
		callTimeout: callTimeout,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

// matchResult is the JSON shape the model is asked to return.
type matchResult struct {
	Score     *int   `json:"match_score"`
	Rationale string `json:"rationale"`
}

// EvaluateMatch scores one match and persists the result. Already scored
// matches are skipped. An invalid response leaves the score null; null is
// distinct from zero and keeps the match in the evaluation queue.
// Returns true when a score was written.
func (e *Evaluator) EvaluateMatch(ctx context.Context, d *store.MatchDetail) (bool, error) {
	log := zap.L().With(
		zap.String("component", "evaluator"),
		zap.String("match_id", d.Match.ID),
	)

	if d.Match.Score != nil {
		log.Debug("match already scored, skipping")
		return false, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return false, eris.Wrap(err, "evaluator: rate limit wait")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	resp, err := e.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 512,
		System:    []anthropic.SystemBlock{{Text: matchSystemPrompt, CacheControl: &anthropic.CacheControl{TTL: "1h"}}},
		Messages:  []anthropic.Message{{Role: "user", Content: matchUserPrompt(d)}},
	})
	if err != nil {
		return false, eris.Wrapf(err, "evaluator: evaluate match %s", d.Match.ID)
	}
	resp.Usage.LogCost(e.model, "match_score")

	result, err := parseMatchResponse(resp.Text())
	if err != nil {
		log.Warn("unusable match response, leaving unscored", zap.Error(err))
		return false, nil
	}

	if err := e.store.SetMatchScore(ctx, d.Match.ID, *result.Score, result.Rationale); err != nil {
		return false, eris.Wrap(err, "evaluator: persist match score")
	}
	log.Info("match scored", zap.Int("match_score", *result.Score))
	e.notifier.Emit(ctx, events.EventMatchScored, map[string]any{
		"match_id": d.Match.ID,
		"score":    *result.Score,
	})
	return true, nil
}

// EvaluateBatch scores up to limit unscored matches concurrently, bounded by
// the configured concurrency and request rate. Transient per-match failures
// are logged and skipped; the next run retries them.
func (e *Evaluator) EvaluateBatch(ctx context.Context, limit int) (int, int, error) {
	details, err := e.store.ListUnscoredMatches(ctx, limit)
	if err != nil {
		return 0, 0, eris.Wrap(err, "evaluator: list batch")
	}

	scored := make([]bool, len(details))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range details {
		g.Go(func() error {
			ok, err := e.EvaluateMatch(gctx, &details[i])
			if err != nil {
				if resilience.IsTransient(err) {
					zap.L().Warn("transient failure evaluating match",
						zap.String("match_id", details[i].Match.ID), zap.Error(err))
					return nil
				}
				return err
			}
			scored[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	n := 0
	for _, ok := range scored {
		if ok {
			n++
		}
	}
	return n, len(details) - n, nil
}

const matchSystemPrompt = `You compare a current government contract opportunity against a historical contract record and judge how likely they represent the same or directly related work.

Consider, in order of weight:
1. Agency alignment: same issuing agency or component.
2. Classification alignment: same or adjacent product/service codes.
3. Scope overlap: how much the described work overlaps.
4. Recency: how recently the historical effort ran.

Respond with a single JSON object:
{
  "match_score": <integer from 0 (unrelated) to 100 (same program recompete)>,
  "rationale": "<one or two sentences naming the strongest and weakest factors>"
}
Respond with only the JSON object.`

func matchUserPrompt(d *store.MatchDetail) string {
	oppDesc := d.Opportunity.Description
	if len(oppDesc) > 4000 {
		oppDesc = oppDesc[:4000]
	}
	recDesc := d.Record.Description
	if len(recDesc) > 4000 {
		recDesc = recDesc[:4000]
	}

	recPosted := "unknown"
	if d.Record.PostedDate != nil {
		recPosted = d.Record.PostedDate.Format("2006-01-02")
	}

	return fmt.Sprintf(`CURRENT OPPORTUNITY
Title: %s
Agency: %s
Classification code: %s
Posted: %s
Description: %s

HISTORICAL RECORD
Title: %s
Agency: %s
Classification code: %s
Posted: %s
Value: $%.0f
Description: %s`,
		d.Opportunity.Title, d.Opportunity.Department, d.Opportunity.ClassificationCode,
		d.Opportunity.PostedDate.Format("2006-01-02"), oppDesc,
		d.Record.Title, d.Record.GovEntity, d.Record.ClassificationCode,
		recPosted, d.Record.Value, recDesc)
}

// parseMatchResponse validates the model output. Scores outside 0-100 are
// rejected, never clamped.
func parseMatchResponse(text string) (*matchResult, error) {
	var result matchResult
	if err := json.Unmarshal([]byte(llmtext.CleanJSON(text)), &result); err != nil {
		return nil, resilience.NewValidationError("match_response", "not valid JSON")
	}
	if result.Score == nil {
		return nil, resilience.NewValidationError("match_score", "missing")
	}
	if *result.Score < 0 || *result.Score > 100 {
		return nil, resilience.NewValidationError("match_score", fmt.Sprintf("out of range: %d", *result.Score))
	}
	return &result, nil
}

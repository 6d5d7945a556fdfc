// Package scorer assigns each opportunity an AI fit score against the
// company rubric.
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/events"
	"github.com/sells-group/fedmatch/internal/llmtext"
	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
	"github.com/sells-group/fedmatch/internal/store"
	"github.com/sells-group/fedmatch/pkg/anthropic"
)

// Scorer scores opportunities for business fit on a 0-10 scale.
type Scorer struct {
	store       store.Store
	client      anthropic.Client
	notifier    *events.Notifier
	rubric      *Rubric
	model       string
	callTimeout time.Duration
}

// New creates a Scorer. notifier may be nil.
func New(st store.Store, client anthropic.Client, notifier *events.Notifier, rubric *Rubric, modelID string, callTimeout time.Duration) *Scorer {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &Scorer{
		store:       st,
		client:      client,
		notifier:    notifier,
		rubric:      rubric,
		model:       modelID,
		callTimeout: callTimeout,
	}
}

// fitResult is the JSON shape the model is asked to return.
type fitResult struct {
	FitScore      *float64 `json:"fit_score"`
	Justification string   `json:"justification"`
	Summary       string   `json:"summary_description"`
	PracticeArea  string   `json:"assigned_practice_area"`
}

// ScoreOpportunity scores one opportunity and persists the result. Already
// scored opportunities are skipped, so re-running a batch is safe. A response
// the model fails to produce in valid form leaves the opportunity unscored;
// unscored is distinct from a low score and shows up in the status counts.
// Returns true when a score was written.
func (s *Scorer) ScoreOpportunity(ctx context.Context, opp *model.Opportunity) (bool, error) {
	log := zap.L().With(
		zap.String("component", "scorer"),
		zap.String("notice_id", opp.NoticeID),
	)

	if opp.Scored() {
		log.Debug("already scored, skipping")
		return false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp, err := s.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 1024,
		System: []anthropic.SystemBlock{{
			Text:         s.systemPrompt(),
			CacheControl: &anthropic.CacheControl{TTL: "1h"},
		}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fitUserPrompt(opp),
		}},
	})
	if err != nil {
		return false, eris.Wrapf(err, "scorer: score %s", opp.NoticeID)
	}
	resp.Usage.LogCost(s.model, "fit_score")

	result, err := parseFitResponse(resp.Text())
	if err != nil {
		log.Warn("unusable fit response, leaving unscored", zap.Error(err))
		return false, nil
	}

	if err := s.store.SetFitScore(ctx, opp.ID, *result.FitScore, result.Justification, result.Summary, result.PracticeArea); err != nil {
		return false, eris.Wrap(err, "scorer: persist score")
	}
	log.Info("opportunity scored",
		zap.Float64("fit_score", *result.FitScore),
		zap.String("practice_area", result.PracticeArea),
	)
	s.notifier.Emit(ctx, events.EventOpportunityScored, map[string]any{
		"opportunity_id": opp.ID,
		"notice_id":      opp.NoticeID,
		"fit_score":      *result.FitScore,
		"practice_area":  result.PracticeArea,
	})
	return true, nil
}

// ScoreBatch scores up to limit opportunities that need a score, sequentially.
// Returns counts of scored and skipped-or-failed opportunities.
func (s *Scorer) ScoreBatch(ctx context.Context, limit int) (int, int, error) {
	opps, err := s.store.ListOpportunitiesNeedingScore(ctx, limit)
	if err != nil {
		return 0, 0, eris.Wrap(err, "scorer: list batch")
	}

	scored, failed := 0, 0
	for i := range opps {
		if err := ctx.Err(); err != nil {
			return scored, failed, eris.Wrap(err, "scorer: batch canceled")
		}
		ok, err := s.ScoreOpportunity(ctx, &opps[i])
		if err != nil {
			if resilience.IsTransient(err) {
				// Skip and keep going; the next batch run retries it.
				zap.L().Warn("transient failure scoring opportunity",
					zap.String("notice_id", opps[i].NoticeID), zap.Error(err))
				failed++
				continue
			}
			return scored, failed, err
		}
		if ok {
			scored++
		} else {
			failed++
		}
	}
	return scored, failed, nil
}

func (s *Scorer) systemPrompt() string {
	return `You are a business development professional evaluating government contract opportunities for fit with our company's capabilities.

` + s.rubric.PromptSection() + `
Assess the opportunity and respond with a single JSON object:
{
  "fit_score": <number from 0 to 10, one decimal place; 1-3 poor fit, 4-5 moderate, 6-7 good, 8-10 excellent>,
  "assigned_practice_area": "<the single best-fitting practice area, or 'Uncategorized'>",
  "justification": "<one sentence, 15 words or less>",
  "summary_description": "<two sentence plain-language summary of the work>"
}
Respond with only the JSON object.`
}

func fitUserPrompt(opp *model.Opportunity) string {
	desc := opp.Description
	if len(desc) > 8000 {
		desc = desc[:8000]
	}
	return fmt.Sprintf(`Title: %s
Department: %s
NAICS: %s
Classification code: %s
Set-aside: %s
Response deadline: %s

Description:
%s`,
		opp.Title, opp.Department, opp.NAICSCode, opp.ClassificationCode,
		opp.SetAside, opp.ResponseDeadline.Format("2006-01-02"), desc)
}

// parseFitResponse validates the model output. Out-of-range or missing scores
// are rejected, never clamped.
func parseFitResponse(text string) (*fitResult, error) {
	var result fitResult
	if err := json.Unmarshal([]byte(llmtext.CleanJSON(text)), &result); err != nil {
		return nil, resilience.NewValidationError("fit_response", "not valid JSON")
	}
	if result.FitScore == nil {
		return nil, resilience.NewValidationError("fit_score", "missing")
	}
	v := *result.FitScore
	if math.IsNaN(v) || v < 0 || v > 10 {
		return nil, resilience.NewValidationError("fit_score", fmt.Sprintf("out of range: %v", v))
	}
	rounded := math.Round(v*10) / 10
	result.FitScore = &rounded
	if result.PracticeArea == "" {
		result.PracticeArea = "Uncategorized"
	}
	return &result, nil
}

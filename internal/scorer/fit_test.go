package scorer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
	"github.com/sells-group/fedmatch/internal/store"
	"github.com/sells-group/fedmatch/pkg/anthropic"
)

type fakeAnthropicClient struct {
	text  string
	err   error
	calls int
}

func (f *fakeAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

func newTestScorer(t *testing.T, client anthropic.Client) (*Scorer, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	return New(st, client, nil, DefaultRubric(), "claude-haiku-4-5-20251001", time.Minute), st
}

func seedOpportunity(t *testing.T, st store.Store, noticeID string) *model.Opportunity {
	t.Helper()
	opp := &model.Opportunity{
		NoticeID:         noticeID,
		Title:            "Program Management Support Services",
		Department:       "Department of Transportation",
		NAICSCode:        "541611",
		Description:      "PMO support for a modernization program.",
		PostedDate:       time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		ResponseDeadline: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.CreateOpportunity(context.Background(), opp))
	return opp
}

func TestScorer_ScoreOpportunity(t *testing.T) {
	client := &fakeAnthropicClient{text: `{"fit_score": 8.5, "assigned_practice_area": "Program Management & Delivery", "justification": "Strong PMO alignment.", "summary_description": "PMO support contract."}`}
	s, st := newTestScorer(t, client)
	ctx := context.Background()

	opp := seedOpportunity(t, st, "N-score")
	ok, err := s.ScoreOpportunity(ctx, opp)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetOpportunityByNoticeID(ctx, "N-score")
	require.NoError(t, err)
	require.NotNil(t, got.FitScore)
	assert.InDelta(t, 8.5, *got.FitScore, 0.001)
	assert.Equal(t, "Program Management & Delivery", got.PracticeArea)
	assert.Equal(t, "PMO support contract.", got.SummaryDescription)
	assert.False(t, got.ScoreStale)
}

func TestScorer_AlreadyScoredSkipsCall(t *testing.T) {
	client := &fakeAnthropicClient{text: `{"fit_score": 5.0}`}
	s, st := newTestScorer(t, client)
	ctx := context.Background()

	opp := seedOpportunity(t, st, "N-done")
	require.NoError(t, st.SetFitScore(ctx, opp.ID, 7.0, "x", "y", "z"))

	got, err := st.GetOpportunityByNoticeID(ctx, "N-done")
	require.NoError(t, err)

	ok, err := s.ScoreOpportunity(ctx, got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, client.calls)
}

func TestScorer_StaleScoreIsRescored(t *testing.T) {
	client := &fakeAnthropicClient{text: `{"fit_score": 6.0, "assigned_practice_area": "Uncategorized", "justification": "ok", "summary_description": "s"}`}
	s, st := newTestScorer(t, client)
	ctx := context.Background()

	inherited := 7.0
	opp := &model.Opportunity{
		NoticeID:         "N-stale",
		Title:            "Amended Notice",
		FitScore:         &inherited,
		ScoreStale:       true,
		PostedDate:       time.Now().UTC(),
		ResponseDeadline: time.Now().UTC(),
	}
	require.NoError(t, st.CreateOpportunity(ctx, opp))

	ok, err := s.ScoreOpportunity(ctx, opp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, client.calls)

	got, err := st.GetOpportunityByNoticeID(ctx, "N-stale")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, *got.FitScore, 0.001)
	assert.False(t, got.ScoreStale)
}

func TestScorer_MalformedResponseLeavesUnscored(t *testing.T) {
	client := &fakeAnthropicClient{text: "I cannot score this opportunity."}
	s, st := newTestScorer(t, client)
	ctx := context.Background()

	opp := seedOpportunity(t, st, "N-bad")
	ok, err := s.ScoreOpportunity(ctx, opp)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetOpportunityByNoticeID(ctx, "N-bad")
	require.NoError(t, err)
	assert.Nil(t, got.FitScore)
}

func TestScorer_OutOfRangeScoreLeavesUnscored(t *testing.T) {
	client := &fakeAnthropicClient{text: `{"fit_score": 14.0, "justification": "x"}`}
	s, st := newTestScorer(t, client)
	ctx := context.Background()

	opp := seedOpportunity(t, st, "N-range")
	ok, err := s.ScoreOpportunity(ctx, opp)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetOpportunityByNoticeID(ctx, "N-range")
	require.NoError(t, err)
	assert.Nil(t, got.FitScore)
}

func TestScorer_ScoreBatch(t *testing.T) {
	client := &fakeAnthropicClient{text: `{"fit_score": 7.0, "assigned_practice_area": "Business & Technology Services", "justification": "ok", "summary_description": "s"}`}
	s, st := newTestScorer(t, client)
	ctx := context.Background()

	seedOpportunity(t, st, "N-b1")
	seedOpportunity(t, st, "N-b2")

	scored, failed, err := s.ScoreBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, scored)
	assert.Zero(t, failed)

	// A second run finds nothing to do.
	scored, failed, err = s.ScoreBatch(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, scored)
	assert.Zero(t, failed)
	assert.Equal(t, 2, client.calls)
}

func TestParseFitResponse(t *testing.T) {
	t.Run("code fenced", func(t *testing.T) {
		r, err := parseFitResponse("```json\n{\"fit_score\": 6.25, \"justification\": \"ok\"}\n```")
		require.NoError(t, err)
		// Rounded to one decimal.
		assert.InDelta(t, 6.3, *r.FitScore, 0.001)
		assert.Equal(t, "Uncategorized", r.PracticeArea)
	})

	t.Run("missing score", func(t *testing.T) {
		_, err := parseFitResponse(`{"justification": "no score"}`)
		require.Error(t, err)
		assert.True(t, resilience.IsValidation(err))
	})

	t.Run("negative score", func(t *testing.T) {
		_, err := parseFitResponse(`{"fit_score": -1}`)
		require.Error(t, err)
		assert.True(t, resilience.IsValidation(err))
	})
}

func TestLoadRubric(t *testing.T) {
	t.Run("missing file uses default", func(t *testing.T) {
		r, err := LoadRubric(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.NotEmpty(t, r.PracticeAreas)
	})

	t.Run("custom file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rubric.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"practice_areas:\n  Widgets: \"We make widgets.\"\npreferred_agencies:\n  - Department of Widgets\n"), 0o644))

		r, err := LoadRubric(path)
		require.NoError(t, err)
		assert.Contains(t, r.PromptSection(), "We make widgets.")
		assert.Contains(t, r.PromptSection(), "Department of Widgets")
	})

	t.Run("malformed file errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rubric.yaml")
		require.NoError(t, os.WriteFile(path, []byte("practice_areas: [not: a map"), 0o644))

		_, err := LoadRubric(path)
		require.Error(t, err)
	})
}

package resolver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fedmatch/internal/config"
	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
	"github.com/sells-group/fedmatch/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	r := New(st, config.ResolverConfig{SimilarityThreshold: 0.85})
	return r, st
}

func testNotice(noticeID string) model.Notice {
	return model.Notice{
		NoticeID:           noticeID,
		Title:              "Custodial Services for Federal Courthouse",
		Department:         "GENERAL SERVICES ADMINISTRATION",
		SolicitationNumber: "47PB0025R0002",
		ClassificationCode: "S201",
		NAICSCode:          "561720",
		Description:        "Daily custodial services.",
		PostedDate:         time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		ResponseDeadline:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestResolver_ValidatesNotice(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, model.Notice{Title: "x", PostedDate: time.Now()})
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))

	n := testNotice("N-1")
	n.Title = ""
	_, err = r.Resolve(ctx, n)
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))
}

func TestResolver_NewNotice(t *testing.T) {
	r, _ := newTestResolver(t)

	res, err := r.Resolve(context.Background(), testNotice("N-1"))
	require.NoError(t, err)
	assert.Equal(t, DispositionNew, res.Disposition)
	require.NotNil(t, res.Opportunity)
	assert.False(t, res.Opportunity.IsAmendment())
	assert.Equal(t, model.ReviewPending, res.Opportunity.ReviewForBid)
}

func TestResolver_DuplicateNoticeIsNoop(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, testNotice("N-1"))
	require.NoError(t, err)

	// Same notice again, even with changed content, must not touch the row.
	changed := testNotice("N-1")
	changed.Description = "Entirely rewritten description."
	second, err := r.Resolve(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, DispositionDuplicate, second.Disposition)
	assert.Equal(t, first.Opportunity.ID, second.Opportunity.ID)

	stored, err := st.GetOpportunityByNoticeID(ctx, "N-1")
	require.NoError(t, err)
	assert.Equal(t, "Daily custodial services.", stored.Description)
}

func TestResolver_AmendmentBySolicitationBase(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	orig, err := r.Resolve(ctx, testNotice("N-v1"))
	require.NoError(t, err)
	require.NoError(t, st.SetFitScore(ctx, orig.Opportunity.ID, 7.0, "good fit", "summary", "Facilities"))

	amend := testNotice("N-v2")
	amend.SolicitationNumber = "47PB0025R0002-A1"
	amend.Title = "Custodial Services for Federal Courthouse (Amended)"
	amend.PostedDate = amend.PostedDate.AddDate(0, 0, 14)

	res, err := r.Resolve(ctx, amend)
	require.NoError(t, err)
	assert.Equal(t, DispositionAmendment, res.Disposition)
	require.NotNil(t, res.Predecessor)
	assert.Equal(t, "N-v1", res.Predecessor.NoticeID)

	// Chain pointers: amendment points at the root, predecessor at its successor.
	require.NotNil(t, res.Opportunity.OriginalID)
	assert.Equal(t, orig.Opportunity.ID, *res.Opportunity.OriginalID)

	pred, err := st.GetOpportunityByNoticeID(ctx, "N-v1")
	require.NoError(t, err)
	require.NotNil(t, pred.SupersededByID)
	assert.Equal(t, res.Opportunity.ID, *pred.SupersededByID)

	// Inherited score is stale, so the amendment queues for re-scoring but
	// review flags reset to Pending.
	got, err := st.GetOpportunityByNoticeID(ctx, "N-v2")
	require.NoError(t, err)
	require.NotNil(t, got.FitScore)
	assert.InDelta(t, 7.0, *got.FitScore, 0.001)
	assert.True(t, got.ScoreStale)
	assert.False(t, got.Scored())
	assert.Equal(t, model.ReviewPending, got.ReviewForBid)
}

func TestResolver_AmendmentChainRootStaysFixed(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	v1, err := r.Resolve(ctx, testNotice("N-v1"))
	require.NoError(t, err)

	v2n := testNotice("N-v2")
	v2n.SolicitationNumber = "47PB0025R0002-A1"
	v2n.PostedDate = v2n.PostedDate.AddDate(0, 0, 7)
	v2, err := r.Resolve(ctx, v2n)
	require.NoError(t, err)

	v3n := testNotice("N-v3")
	v3n.SolicitationNumber = "47PB0025R0002-A2"
	v3n.PostedDate = v3n.PostedDate.AddDate(0, 0, 21)
	v3, err := r.Resolve(ctx, v3n)
	require.NoError(t, err)

	assert.Equal(t, DispositionAmendment, v3.Disposition)
	assert.Equal(t, "N-v2", v3.Predecessor.NoticeID)
	// Every version points at the true root, not the immediate predecessor.
	assert.Equal(t, v1.Opportunity.ID, *v2.Opportunity.OriginalID)
	assert.Equal(t, v1.Opportunity.ID, *v3.Opportunity.OriginalID)
}

func TestResolver_AmendmentByFuzzyTitle(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	orig := testNotice("N-f1")
	orig.SolicitationNumber = ""
	_, err := r.Resolve(ctx, orig)
	require.NoError(t, err)

	// No solicitation number to key on; same department, same code, near
	// identical title a month later.
	amend := testNotice("N-f2")
	amend.SolicitationNumber = ""
	amend.Title = "Custodial Services for the Federal Courthouse"
	amend.PostedDate = orig.PostedDate.AddDate(0, 1, 0)

	res, err := r.Resolve(ctx, amend)
	require.NoError(t, err)
	assert.Equal(t, DispositionAmendment, res.Disposition)
	assert.Equal(t, "N-f1", res.Predecessor.NoticeID)
}

func TestResolver_SupersedeChainsForwardAfterLostRace(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	v1, err := r.Resolve(ctx, testNotice("N-v1"))
	require.NoError(t, err)

	v2n := testNotice("N-v2")
	v2n.SolicitationNumber = "47PB0025R0002-A1"
	v2n.PostedDate = v2n.PostedDate.AddDate(0, 0, 7)
	v2, err := r.Resolve(ctx, v2n)
	require.NoError(t, err)

	// A writer still holding the pre-race read of v1 tries to supersede it
	// after v2 already claimed the pointer. It must chain forward to v2
	// instead of forking.
	v3n := testNotice("N-v3")
	v3n.SolicitationNumber = "47PB0025R0002-A2"
	v3n.PostedDate = v3n.PostedDate.AddDate(0, 0, 14)
	opp := opportunityFromNotice(v3n)
	opp.OriginalID = &v1.Opportunity.ID
	require.NoError(t, st.CreateOpportunity(ctx, opp))

	tip, err := r.supersede(ctx, v1.Opportunity, opp)
	require.NoError(t, err)
	assert.Equal(t, "N-v2", tip.NoticeID)

	// v1 keeps its original successor; v2 now points at the new version.
	v1row, err := st.GetOpportunityByNoticeID(ctx, "N-v1")
	require.NoError(t, err)
	require.NotNil(t, v1row.SupersededByID)
	assert.Equal(t, v2.Opportunity.ID, *v1row.SupersededByID)

	v2row, err := st.GetOpportunityByNoticeID(ctx, "N-v2")
	require.NoError(t, err)
	require.NotNil(t, v2row.SupersededByID)
	assert.Equal(t, opp.ID, *v2row.SupersededByID)
}

func TestResolver_FuzzyTieBreakPrefersLongerPrefix(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	sameDay := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	seed := func(noticeID, title string) {
		n := testNotice(noticeID)
		n.SolicitationNumber = ""
		n.Title = title
		n.PostedDate = sameDay
		require.NoError(t, st.CreateOpportunity(ctx, opportunityFromNotice(n)))
	}
	seed("N-t1", "The Custodial Services for Federal Courthouse Building Two")
	seed("N-t2", "Custodial Services for Federal Courthouse Building One")

	// Both candidates qualify on similarity and share a posted date; the one
	// sharing the longer title prefix is the predecessor.
	amend := testNotice("N-t3")
	amend.SolicitationNumber = ""
	amend.Title = "Custodial Services for Federal Courthouse Building Two"
	amend.PostedDate = sameDay.AddDate(0, 0, 7)

	res, err := r.Resolve(ctx, amend)
	require.NoError(t, err)
	assert.Equal(t, DispositionAmendment, res.Disposition)
	require.NotNil(t, res.Predecessor)
	assert.Equal(t, "N-t2", res.Predecessor.NoticeID)
}

func TestResolver_DissimilarTitleIsNew(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	orig := testNotice("N-d1")
	orig.SolicitationNumber = ""
	_, err := r.Resolve(ctx, orig)
	require.NoError(t, err)

	other := testNotice("N-d2")
	other.SolicitationNumber = ""
	other.Title = "Grounds Maintenance and Snow Removal"
	other.PostedDate = orig.PostedDate.AddDate(0, 1, 0)

	res, err := r.Resolve(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, DispositionNew, res.Disposition)
}

func TestTitleSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, TitleSimilarity("Janitorial Services", "JANITORIAL   SERVICES!"), 0.001)
	assert.Greater(t, TitleSimilarity(
		"Custodial Services for Federal Courthouse",
		"Custodial Services for the Federal Courthouse",
	), 0.85)
	assert.Less(t, TitleSimilarity(
		"Custodial Services for Federal Courthouse",
		"Armed Guard Services",
	), 0.5)
	assert.Zero(t, TitleSimilarity("", ""))
}

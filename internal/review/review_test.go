package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
	"github.com/sells-group/fedmatch/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, nil), st
}

func seedOpportunity(t *testing.T, st store.Store, noticeID string) *model.Opportunity {
	t.Helper()
	opp := &model.Opportunity{
		NoticeID:         noticeID,
		Title:            "Facility Maintenance Services",
		PostedDate:       time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		ResponseDeadline: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.CreateOpportunity(context.Background(), opp))
	return opp
}

func seedMatch(t *testing.T, st store.Store, noticeID, externalID string) *model.Match {
	t.Helper()
	ctx := context.Background()
	opp := seedOpportunity(t, st, noticeID)

	rec, err := st.UpsertHistoricalRecord(ctx, &model.HistoricalRecord{
		ExternalID: externalID,
		Title:      "Base Operations Support",
	})
	require.NoError(t, err)

	m := &model.Match{OpportunityID: opp.ID, RecordID: rec.ID, Strategy: model.StrategyTitleKeywords}
	created, err := st.CreateMatch(ctx, m)
	require.NoError(t, err)
	require.True(t, created)
	return m
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(model.MatchPendingReview, model.MatchConfirmed))
	assert.True(t, CanTransition(model.MatchPendingReview, model.MatchRejected))
	assert.True(t, CanTransition(model.MatchPendingReview, model.MatchNeedsInfo))
	assert.True(t, CanTransition(model.MatchNeedsInfo, model.MatchConfirmed))
	assert.True(t, CanTransition(model.MatchNeedsInfo, model.MatchRejected))

	assert.False(t, CanTransition(model.MatchNeedsInfo, model.MatchPendingReview))
	assert.False(t, CanTransition(model.MatchConfirmed, model.MatchRejected))
	assert.False(t, CanTransition(model.MatchConfirmed, model.MatchPendingReview))
	assert.False(t, CanTransition(model.MatchRejected, model.MatchConfirmed))
	assert.False(t, CanTransition(model.MatchPendingReview, model.MatchPendingReview))
}

func TestTransitionMatch_StampsReviewer(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	m := seedMatch(t, st, "N-1", "GW-1")
	got, err := s.TransitionMatch(ctx, m.ID, model.MatchConfirmed, "same recompete", "analyst@sells.group")
	require.NoError(t, err)

	assert.Equal(t, model.MatchConfirmed, got.Status)
	assert.Equal(t, "same recompete", got.Notes)
	assert.Equal(t, "analyst@sells.group", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.ReviewedAt, time.Minute)
}

func TestTransitionMatch_NeedsInfoRoundTrip(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	m := seedMatch(t, st, "N-2", "GW-2")

	got, err := s.TransitionMatch(ctx, m.ID, model.MatchNeedsInfo, "check period of performance", "analyst")
	require.NoError(t, err)
	assert.Equal(t, model.MatchNeedsInfo, got.Status)

	got, err = s.TransitionMatch(ctx, m.ID, model.MatchRejected, "different scope entirely", "analyst")
	require.NoError(t, err)
	assert.Equal(t, model.MatchRejected, got.Status)
}

func TestTransitionMatch_TerminalStateRejectsFurtherTransitions(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	m := seedMatch(t, st, "N-3", "GW-3")
	_, err := s.TransitionMatch(ctx, m.ID, model.MatchConfirmed, "", "analyst")
	require.NoError(t, err)

	_, err = s.TransitionMatch(ctx, m.ID, model.MatchRejected, "changed my mind", "analyst")
	require.Error(t, err)
	assert.True(t, resilience.IsInvalidTransition(err))

	// The error names the current state.
	assert.Contains(t, err.Error(), "confirmed")

	got, err := st.GetMatchByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchConfirmed, got.Status)
}

// staleMatchStore serves one stale match read before delegating, modeling a
// reviewer whose legality check ran against a snapshot another reviewer has
// since overwritten.
type staleMatchStore struct {
	store.Store
	stale  *model.Match
	served bool
}

func (s *staleMatchStore) GetMatchByID(ctx context.Context, id string) (*model.Match, error) {
	if !s.served {
		s.served = true
		return s.stale, nil
	}
	return s.Store.GetMatchByID(ctx, id)
}

func TestTransitionMatch_StaleReadLosesToConcurrentReviewer(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	m := seedMatch(t, st, "N-race", "GW-race")
	_, err := s.TransitionMatch(ctx, m.ID, model.MatchConfirmed, "", "reviewer-a")
	require.NoError(t, err)

	// Reviewer B read the match while it was still pending, so the legality
	// check passes, but the conditional write must not land.
	stale := *m
	stale.Status = model.MatchPendingReview
	racing := New(&staleMatchStore{Store: st, stale: &stale}, nil)

	_, err = racing.TransitionMatch(ctx, m.ID, model.MatchRejected, "different scope", "reviewer-b")
	require.Error(t, err)
	assert.True(t, resilience.IsInvalidTransition(err))
	assert.Contains(t, err.Error(), "confirmed")

	got, err := st.GetMatchByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchConfirmed, got.Status)
}

func TestTransitionMatch_NeedsInfoCannotReturnToPending(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	m := seedMatch(t, st, "N-4", "GW-4")
	_, err := s.TransitionMatch(ctx, m.ID, model.MatchNeedsInfo, "", "analyst")
	require.NoError(t, err)

	_, err = s.TransitionMatch(ctx, m.ID, model.MatchPendingReview, "", "analyst")
	assert.True(t, resilience.IsInvalidTransition(err))
}

func TestTransitionMatch_UnknownStatusAndMissingMatch(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	m := seedMatch(t, st, "N-5", "GW-5")

	_, err := s.TransitionMatch(ctx, m.ID, model.MatchStatus("approved"), "", "analyst")
	assert.True(t, resilience.IsValidation(err))

	_, err = s.TransitionMatch(ctx, "no-such-id", model.MatchConfirmed, "", "analyst")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDeleteMatch_AllowedFromTerminal(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	m := seedMatch(t, st, "N-6", "GW-6")
	_, err := s.TransitionMatch(ctx, m.ID, model.MatchRejected, "wrong program", "analyst")
	require.NoError(t, err)

	require.NoError(t, s.DeleteMatch(ctx, m.ID))

	got, err := st.GetMatchByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, s.DeleteMatch(ctx, m.ID))
}

func TestReviewOpportunity(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	opp := seedOpportunity(t, st, "N-7")
	got, err := s.ReviewOpportunity(ctx, opp.ID, model.ReviewYes, model.ReviewNo, "bid but flag staffing risk", "pm@sells.group")
	require.NoError(t, err)

	assert.Equal(t, model.ReviewYes, got.ReviewForBid)
	assert.Equal(t, model.ReviewNo, got.RecommendBid)
	assert.Equal(t, "bid but flag staffing risk", got.ReviewComments)
	assert.Equal(t, "pm@sells.group", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)

	// Flags are free-form: any value is reachable from any other.
	got, err = s.ReviewOpportunity(ctx, opp.ID, model.ReviewPending, model.ReviewPending, "", "pm@sells.group")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, got.ReviewForBid)
}

func TestReviewOpportunity_InvalidFlag(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	opp := seedOpportunity(t, st, "N-8")
	_, err := s.ReviewOpportunity(ctx, opp.ID, model.ReviewFlag("Maybe"), model.ReviewNo, "", "pm")
	assert.True(t, resilience.IsValidation(err))
}

func TestFollow(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	opp := seedOpportunity(t, st, "N-9")
	require.NoError(t, s.Follow(ctx, opp.ID, true))

	got, err := st.GetOpportunityByID(ctx, opp.ID)
	require.NoError(t, err)
	assert.True(t, got.Followed)

	require.NoError(t, s.Follow(ctx, opp.ID, false))
	got, err = st.GetOpportunityByID(ctx, opp.ID)
	require.NoError(t, err)
	assert.False(t, got.Followed)
}

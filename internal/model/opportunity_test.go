package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSolicitationBase(t *testing.T) {
	cases := map[string]string{
		"":                       "",
		"W912DY-24-R-0015":       "W912DY-24-R-0015",
		"W912DY-24-R-0015-A2":    "W912DY-24-R-0015",
		"w912dy-24-r-0015 amd 3": "W912DY-24-R-0015",
		"SPE7L1-25-Q-0112_MOD1":  "SPE7L1-25-Q-0112",
		"75N96024R00011 REV 2":   "75N96024R00011",
		"  N00014-25-S-B001  ":   "N00014-25-S-B001",
		"FA8501-24-AMENDMENT-12": "FA8501-24",
	}
	for in, want := range cases {
		assert.Equal(t, want, SolicitationBase(in), "input %q", in)
	}
}

func TestScoredAndChainHelpers(t *testing.T) {
	var o Opportunity
	assert.False(t, o.Scored())
	assert.False(t, o.IsAmendment())
	assert.False(t, o.IsSuperseded())

	score := 7.5
	o.FitScore = &score
	assert.True(t, o.Scored())

	// Inherited scores are provisional until re-scored.
	o.ScoreStale = true
	assert.False(t, o.Scored())

	root := "opp-1"
	next := "opp-3"
	o.OriginalID = &root
	o.SupersededByID = &next
	assert.True(t, o.IsAmendment())
	assert.True(t, o.IsSuperseded())
}

func TestStatusValidity(t *testing.T) {
	assert.True(t, MatchPendingReview.Valid())
	assert.True(t, MatchNeedsInfo.Valid())
	assert.False(t, MatchStatus("approved").Valid())

	assert.False(t, MatchPendingReview.Terminal())
	assert.False(t, MatchNeedsInfo.Terminal())
	assert.True(t, MatchConfirmed.Terminal())
	assert.True(t, MatchRejected.Terminal())

	assert.True(t, ReviewYes.Valid())
	assert.False(t, ReviewFlag("Maybe").Valid())
}

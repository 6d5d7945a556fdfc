// Package store provides persistence for opportunities, historical records,
// matches, and search attempt audit rows.
package store

import (
	"context"
	"time"

	"github.com/sells-group/fedmatch/internal/model"
)

// MatchDetail bundles a Match with the two entities it pairs, for evaluation
// and review listings.
type MatchDetail struct {
	Match       model.Match            `json:"match"`
	Opportunity model.Opportunity      `json:"opportunity"`
	Record      model.HistoricalRecord `json:"record"`
}

// Stats summarizes pipeline state for the status command.
type Stats struct {
	Opportunities     int            `json:"opportunities"`
	NeedingScore      int            `json:"needing_score"`
	AboveThreshold    int            `json:"above_threshold"`
	HistoricalRecords int            `json:"historical_records"`
	Matches           int            `json:"matches"`
	UnscoredMatches   int            `json:"unscored_matches"`
	MatchesByStatus   map[string]int `json:"matches_by_status"`
	SearchAttempts    int            `json:"search_attempts"`
}

// Store defines the persistence interface for the matching engine. Lookup
// methods return (nil, nil) when the row does not exist; writes that lose an
// optimistic-lock race return a resilience.ConflictError or report no-op.
type Store interface {
	// Opportunities
	GetOpportunityByNoticeID(ctx context.Context, noticeID string) (*model.Opportunity, error)
	GetOpportunityByID(ctx context.Context, id string) (*model.Opportunity, error)
	CreateOpportunity(ctx context.Context, opp *model.Opportunity) error
	// MarkSuperseded claims the forward pointer; an already-superseded row
	// reports a resilience.ConflictError.
	MarkSuperseded(ctx context.Context, noticeID, supersededByNoticeID string) error
	SetFitScore(ctx context.Context, id string, score float64, justification, summary, practiceArea string) error
	SetReviewFlags(ctx context.Context, id string, forBid, recommend model.ReviewFlag, comments, reviewedBy string, reviewedAt time.Time) error
	SetFollowed(ctx context.Context, id string, followed bool) error
	ListOpportunitiesNeedingScore(ctx context.Context, limit int) ([]model.Opportunity, error)
	ListOpportunitiesForSearch(ctx context.Context, fitThreshold float64, limit int) ([]model.Opportunity, error)
	ListBySolicitationBase(ctx context.Context, base string) ([]model.Opportunity, error)
	ListOpportunitiesForExport(ctx context.Context, limit int) ([]model.Opportunity, error)
	ListPredecessorCandidates(ctx context.Context, department, classificationCode string, postedOnOrBefore time.Time) ([]model.Opportunity, error)

	// Historical records
	UpsertHistoricalRecord(ctx context.Context, rec *model.HistoricalRecord) (*model.HistoricalRecord, error)

	// Matches
	GetMatch(ctx context.Context, opportunityID, recordID string) (*model.Match, error)
	GetMatchByID(ctx context.Context, id string) (*model.Match, error)
	CreateMatch(ctx context.Context, m *model.Match) (bool, error)
	ListUnscoredMatches(ctx context.Context, limit int) ([]MatchDetail, error)
	SetMatchScore(ctx context.Context, id string, score int, rationale string) error
	// SetMatchStatus writes the target status conditionally on the status
	// the caller last read; a stale read loses with a resilience.ConflictError.
	SetMatchStatus(ctx context.Context, id string, from, to model.MatchStatus, notes, reviewedBy string, reviewedAt time.Time) error
	DeleteMatch(ctx context.Context, id string) error

	// Audit
	AppendSearchAttempt(ctx context.Context, a *model.SearchAttempt) error
	CountSearchAttempts(ctx context.Context, opportunityID string) (int, error)

	// Stats
	Stats(ctx context.Context, fitThreshold float64) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver, "postgres" or "sqlite".
func Open(ctx context.Context, driver, databaseURL string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(databaseURL)
	default:
		return NewPostgres(ctx, databaseURL, poolCfg)
	}
}

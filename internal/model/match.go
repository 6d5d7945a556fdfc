package model

import "time"

// MatchStatus is the review workflow state of a Match.
type MatchStatus string

const (
	MatchPendingReview MatchStatus = "pending_review"
	MatchConfirmed     MatchStatus = "confirmed"
	MatchRejected      MatchStatus = "rejected"
	MatchNeedsInfo     MatchStatus = "needs_info"
)

// AllMatchStatuses returns every valid MatchStatus value.
func AllMatchStatuses() []MatchStatus {
	return []MatchStatus{MatchPendingReview, MatchConfirmed, MatchRejected, MatchNeedsInfo}
}

// Valid reports whether s is a known match status.
func (s MatchStatus) Valid() bool {
	for _, v := range AllMatchStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s accepts no further status transitions.
// A terminal match may still be deleted, which is a destructive operation
// rather than a transition.
func (s MatchStatus) Terminal() bool {
	return s == MatchConfirmed || s == MatchRejected
}

// SearchStrategy identifies one fixed method of querying the
// historical-records collaborator.
type SearchStrategy string

const (
	StrategyDepartmentKeyword   SearchStrategy = "department_keyword"
	StrategyClassificationCode  SearchStrategy = "classification_code"
	StrategyTitleKeywords       SearchStrategy = "title_keywords"
	StrategyDeptClassification  SearchStrategy = "department_classification"
	StrategyTitleClassification SearchStrategy = "title_classification"

	// StrategyNone is the audit sentinel for an opportunity whose fields
	// support no strategy at all, so batch selection does not revisit it.
	StrategyNone SearchStrategy = "none"
)

// AllSearchStrategies returns the fixed, ordered strategy set. Order matters:
// the first strategy to surface a record is the one recorded on the Match.
func AllSearchStrategies() []SearchStrategy {
	return []SearchStrategy{
		StrategyDepartmentKeyword,
		StrategyClassificationCode,
		StrategyTitleKeywords,
		StrategyDeptClassification,
		StrategyTitleClassification,
	}
}

// Match is a candidate pairing between one Opportunity and one
// HistoricalRecord. At most one Match exists per pair regardless of how many
// strategies surface it.
type Match struct {
	ID            string         `json:"id"`
	OpportunityID string         `json:"opportunity_id"`
	RecordID      string         `json:"record_id"`
	Strategy      SearchStrategy `json:"strategy"`

	// Score is nil until evaluated; evaluation failures leave it nil.
	Score     *int   `json:"score,omitempty"`
	Rationale string `json:"rationale,omitempty"`

	Status     MatchStatus `json:"status"`
	Notes      string      `json:"notes,omitempty"`
	ReviewedBy string      `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time  `json:"reviewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

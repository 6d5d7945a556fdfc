package model

import "time"

// SearchAttempt records one invocation of one search strategy against one
// Opportunity. Append-only audit data: every strategy run is logged, including
// zero-result and failed ones.
type SearchAttempt struct {
	ID            string         `json:"id"`
	OpportunityID string         `json:"opportunity_id"`
	Strategy      SearchStrategy `json:"strategy"`
	Params        string         `json:"params"` // JSON-encoded query parameters
	ResultCount   int            `json:"result_count"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Elapsed       time.Duration  `json:"elapsed"`
	CreatedAt     time.Time      `json:"created_at"`
}

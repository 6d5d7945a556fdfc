package model

import "time"

// HistoricalRecord is a past contract/opportunity sourced from the
// historical-records collaborator. Records are created only when a search
// strategy returns them, never speculatively. Identity fields are immutable;
// denormalized fields (title, value, dates) are refreshed on re-hit.
type HistoricalRecord struct {
	ID                 string     `json:"id"`
	ExternalID         string     `json:"external_id"`
	Title              string     `json:"title"`
	GovEntity          string     `json:"gov_entity"`
	ClassificationCode string     `json:"classification_code"`
	Description        string     `json:"description"`
	Value              float64    `json:"value"`
	PostedDate         *time.Time `json:"posted_date,omitempty"`
	AwardDate          *time.Time `json:"award_date,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Package model defines the core entities of the opportunity matching engine.
package model

import (
	"regexp"
	"strings"
	"time"
)

// ReviewFlag is a reviewer-controlled bid workflow value. Unlike Match
// statuses these are free-form: any value is reachable from any other.
type ReviewFlag string

const (
	ReviewPending ReviewFlag = "Pending"
	ReviewYes     ReviewFlag = "Yes"
	ReviewNo      ReviewFlag = "No"
)

// AllReviewFlags returns every valid ReviewFlag value.
func AllReviewFlags() []ReviewFlag {
	return []ReviewFlag{ReviewPending, ReviewYes, ReviewNo}
}

// Valid reports whether f is a known review flag.
func (f ReviewFlag) Valid() bool {
	for _, v := range AllReviewFlags() {
		if f == v {
			return true
		}
	}
	return false
}

// Notice is a raw opportunity notice as returned by the feed client,
// before amendment resolution.
type Notice struct {
	NoticeID           string    `json:"notice_id"`
	Title              string    `json:"title"`
	Department         string    `json:"department"`
	SolicitationNumber string    `json:"solicitation_number"`
	ClassificationCode string    `json:"classification_code"`
	NAICSCode          string    `json:"naics_code"`
	SetAside           string    `json:"set_aside,omitempty"`
	PlaceOfPerformance string    `json:"place_of_performance,omitempty"`
	Description        string    `json:"description"`
	PostedDate         time.Time `json:"posted_date"`
	ResponseDeadline   time.Time `json:"response_deadline"`
	Link               string    `json:"link,omitempty"`
}

// Opportunity is one version of a government contract notice. Amendment
// relationships are explicit chain pointers: OriginalID points at the true
// root of the chain, SupersededByID at the next version. Both are nil on a
// current original notice. The pointers hold internal row ids rather than
// notice ids; NoticeID stays the external key for lookups.
type Opportunity struct {
	ID                 string     `json:"id"`
	NoticeID           string     `json:"notice_id"`
	Title              string     `json:"title"`
	Department         string     `json:"department"`
	SolicitationNumber string     `json:"solicitation_number"`
	ClassificationCode string     `json:"classification_code"`
	NAICSCode          string     `json:"naics_code"`
	SetAside           string     `json:"set_aside,omitempty"`
	PlaceOfPerformance string     `json:"place_of_performance,omitempty"`
	Description        string     `json:"description"`
	SummaryDescription string     `json:"summary_description,omitempty"`
	PostedDate         time.Time  `json:"posted_date"`
	ResponseDeadline   time.Time  `json:"response_deadline"`
	Link               string     `json:"link,omitempty"`

	// Fit scoring. FitScore is nil until scored; a nil score is distinct
	// from a low score and is surfaced as "unscored". ScoreStale marks an
	// inherited or outdated score pending re-evaluation.
	FitScore      *float64 `json:"fit_score,omitempty"`
	Justification string   `json:"justification,omitempty"`
	PracticeArea  string   `json:"practice_area,omitempty"`
	ScoreStale    bool     `json:"score_stale"`

	// Amendment chain.
	OriginalID     *string `json:"original_id,omitempty"`
	SupersededByID *string `json:"superseded_by_id,omitempty"`

	// Reviewer workflow.
	ReviewForBid   ReviewFlag `json:"review_for_bid"`
	RecommendBid   ReviewFlag `json:"recommend_bid"`
	ReviewComments string     `json:"review_comments,omitempty"`
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	Followed       bool       `json:"followed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAmendment reports whether the opportunity amends an earlier notice.
func (o *Opportunity) IsAmendment() bool {
	return o.OriginalID != nil && *o.OriginalID != ""
}

// IsSuperseded reports whether a newer version of this notice exists.
func (o *Opportunity) IsSuperseded() bool {
	return o.SupersededByID != nil && *o.SupersededByID != ""
}

// Scored reports whether the opportunity carries a current fit score.
func (o *Opportunity) Scored() bool {
	return o.FitScore != nil && !o.ScoreStale
}

// amendmentSuffix matches the version suffix agencies append to a
// solicitation number when reposting a notice, e.g. "W912DY-24-R-0015-A2",
// "SPE7L1-25-Q-0112 AMD 3", "75N96024R00011_MOD1".
var amendmentSuffix = regexp.MustCompile(`(?i)[-_ ]*(?:A|AMD|AMENDMENT|MOD|REV)[-_ ]*\d+$`)

// SolicitationBase strips the amendment suffix from a solicitation number so
// every version of a notice shares one base. Returns "" for an empty number;
// callers must not group ungrouped notices together.
func SolicitationBase(solicitationNumber string) string {
	s := strings.ToUpper(strings.TrimSpace(solicitationNumber))
	if s == "" {
		return ""
	}
	return amendmentSuffix.ReplaceAllString(s, "")
}

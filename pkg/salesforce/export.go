package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fedmatch/internal/model"
)

// noticeExternalIDField is the custom external-id field that keys CRM
// opportunities to SAM.gov notices, so repeated exports update in place.
const noticeExternalIDField = "SAM_Notice_ID__c"

// nameLimit is the Salesforce Opportunity.Name length cap.
const nameLimit = 120

// OpportunityRecord maps a scored opportunity to the CRM Opportunity shape.
func OpportunityRecord(opp *model.Opportunity) map[string]any {
	name := opp.Title
	if len(name) > nameLimit {
		name = name[:nameLimit]
	}

	rec := map[string]any{
		noticeExternalIDField:    opp.NoticeID,
		"Name":                   name,
		"StageName":              "Prospecting",
		"CloseDate":              opp.ResponseDeadline.Format("2006-01-02"),
		"Description":            opp.SummaryDescription,
		"Agency__c":              opp.Department,
		"Solicitation_Number__c": opp.SolicitationNumber,
		"NAICS_Code__c":          opp.NAICSCode,
		"Practice_Area__c":       opp.PracticeArea,
		"SAM_Link__c":            opp.Link,
	}
	if opp.FitScore != nil {
		rec["Fit_Score__c"] = *opp.FitScore
	}
	return rec
}

// UpsertOpportunity pushes one opportunity to the CRM, keyed on its notice id,
// and returns the Salesforce record id.
func UpsertOpportunity(ctx context.Context, c Client, opp *model.Opportunity) (string, error) {
	if opp.NoticeID == "" {
		return "", eris.New("sf: notice id is required")
	}
	id, err := c.UpsertOne(ctx, "Opportunity", noticeExternalIDField, OpportunityRecord(opp))
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: export notice %s", opp.NoticeID))
	}
	return id, nil
}

// BulkUpsertOpportunities pushes opportunities in collection batches. Records
// without a notice id are rejected before any API call is made.
func BulkUpsertOpportunities(ctx context.Context, c Client, opps []model.Opportunity) ([]CollectionResult, error) {
	if len(opps) == 0 {
		return nil, nil
	}

	records := make([]map[string]any, len(opps))
	for i := range opps {
		if opps[i].NoticeID == "" {
			return nil, eris.New("sf: notice id is required")
		}
		records[i] = OpportunityRecord(&opps[i])
	}

	results, err := c.UpsertCollection(ctx, "Opportunity", noticeExternalIDField, records)
	if err != nil {
		return nil, eris.Wrap(err, "sf: bulk export opportunities")
	}
	return results, nil
}

// FindOpportunityByNoticeID queries the CRM for an exported opportunity.
// Returns "" when none exists.
func FindOpportunityByNoticeID(ctx context.Context, c Client, noticeID string) (string, error) {
	soql := fmt.Sprintf(
		"SELECT Id FROM Opportunity WHERE %s = '%s' LIMIT 1",
		noticeExternalIDField, escapeSoql(noticeID),
	)

	var rows []struct {
		ID string `json:"Id"`
	}
	if err := c.Query(ctx, soql, &rows); err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: find notice %s", noticeID))
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].ID, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

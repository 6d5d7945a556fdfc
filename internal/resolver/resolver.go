// Package resolver decides, for each incoming notice, whether it is new, an
// exact duplicate of a stored opportunity, or an amendment superseding one.
package resolver

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/config"
	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
	"github.com/sells-group/fedmatch/internal/store"
)

// Disposition is the outcome of resolving one notice.
type Disposition string

const (
	DispositionNew       Disposition = "new"
	DispositionDuplicate Disposition = "duplicate"
	DispositionAmendment Disposition = "amendment"
)

// Resolution reports what Resolve did with a notice. Opportunity is the
// stored row the notice maps to; Predecessor is set only for amendments.
type Resolution struct {
	Disposition Disposition        `json:"disposition"`
	Opportunity *model.Opportunity `json:"opportunity"`
	Predecessor *model.Opportunity `json:"predecessor,omitempty"`
}

// Resolver applies amendment and duplicate detection on ingest.
type Resolver struct {
	store store.Store
	cfg   config.ResolverConfig
}

// New creates a Resolver.
func New(st store.Store, cfg config.ResolverConfig) *Resolver {
	return &Resolver{store: st, cfg: cfg}
}

// Resolve matches a notice against stored opportunities and persists the
// outcome. Duplicates are no-ops. Amendments are stored as new rows linked to
// the chain root, inheriting the predecessor's fit score marked stale, and the
// predecessor is marked superseded.
func (r *Resolver) Resolve(ctx context.Context, notice model.Notice) (*Resolution, error) {
	if notice.NoticeID == "" {
		return nil, resilience.NewValidationError("notice_id", "required")
	}
	if notice.Title == "" {
		return nil, resilience.NewValidationError("title", "required")
	}
	if notice.PostedDate.IsZero() {
		return nil, resilience.NewValidationError("posted_date", "required")
	}

	log := zap.L().With(
		zap.String("component", "resolver"),
		zap.String("notice_id", notice.NoticeID),
	)

	existing, err := r.store.GetOpportunityByNoticeID(ctx, notice.NoticeID)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: lookup notice")
	}
	if existing != nil {
		log.Debug("duplicate notice, skipping")
		return &Resolution{Disposition: DispositionDuplicate, Opportunity: existing}, nil
	}

	pred, err := r.findPredecessor(ctx, notice)
	if err != nil {
		return nil, err
	}

	opp := opportunityFromNotice(notice)
	if pred != nil {
		rootID := pred.ID
		if pred.OriginalID != nil && *pred.OriginalID != "" {
			rootID = *pred.OriginalID
		}
		opp.OriginalID = &rootID

		// The predecessor's score carries over as a stale placeholder so the
		// amendment sorts with its chain until re-scored.
		if pred.FitScore != nil {
			score := *pred.FitScore
			opp.FitScore = &score
			opp.Justification = pred.Justification
			opp.PracticeArea = pred.PracticeArea
			opp.ScoreStale = true
		}
		if r.cfg.InheritReviewFields {
			opp.ReviewForBid = pred.ReviewForBid
			opp.RecommendBid = pred.RecommendBid
			opp.ReviewComments = pred.ReviewComments
		}
	}

	if err := r.store.CreateOpportunity(ctx, opp); err != nil {
		if resilience.IsConflict(err) {
			// Another ingester beat us to this notice. Re-read and treat as a
			// duplicate; the losing write is discarded whole.
			winner, rerr := r.store.GetOpportunityByNoticeID(ctx, notice.NoticeID)
			if rerr != nil {
				return nil, eris.Wrap(rerr, "resolver: re-read after conflict")
			}
			log.Info("lost insert race, keeping stored opportunity")
			return &Resolution{Disposition: DispositionDuplicate, Opportunity: winner}, nil
		}
		return nil, eris.Wrap(err, "resolver: create opportunity")
	}

	if pred == nil {
		log.Info("new opportunity", zap.String("opportunity_id", opp.ID))
		return &Resolution{Disposition: DispositionNew, Opportunity: opp}, nil
	}

	tip, err := r.supersede(ctx, pred, opp)
	if err != nil {
		return nil, err
	}
	log.Info("amendment resolved",
		zap.String("opportunity_id", opp.ID),
		zap.String("predecessor_notice_id", tip.NoticeID),
	)
	return &Resolution{Disposition: DispositionAmendment, Opportunity: opp, Predecessor: tip}, nil
}

// supersede marks the current tip of pred's chain as superseded by opp. The
// pointer write is claim-once, so when a concurrent amendment got there first
// the chain is followed forward and the new tip claimed instead. The chain
// stays a single line either way.
func (r *Resolver) supersede(ctx context.Context, pred, opp *model.Opportunity) (*model.Opportunity, error) {
	cur := pred
	for {
		err := r.store.MarkSuperseded(ctx, cur.NoticeID, opp.NoticeID)
		if err == nil {
			return cur, nil
		}
		if !resilience.IsConflict(err) {
			return nil, eris.Wrap(err, "resolver: mark predecessor superseded")
		}
		fresh, rerr := r.store.GetOpportunityByNoticeID(ctx, cur.NoticeID)
		if rerr != nil {
			return nil, eris.Wrap(rerr, "resolver: re-read predecessor after conflict")
		}
		if fresh == nil || fresh.SupersededByID == nil {
			return nil, eris.Wrapf(err, "resolver: supersede %s", cur.NoticeID)
		}
		next, rerr := r.store.GetOpportunityByID(ctx, *fresh.SupersededByID)
		if rerr != nil {
			return nil, eris.Wrap(rerr, "resolver: read successor after conflict")
		}
		if next == nil || next.ID == opp.ID {
			return nil, eris.Wrapf(err, "resolver: supersede %s", cur.NoticeID)
		}
		cur = next
	}
}

// findPredecessor locates the stored opportunity this notice amends, if any.
// Pass 1 keys on the shared solicitation number base; pass 2 falls back to
// fuzzy title matching within the same department and classification code.
func (r *Resolver) findPredecessor(ctx context.Context, notice model.Notice) (*model.Opportunity, error) {
	if base := model.SolicitationBase(notice.SolicitationNumber); base != "" {
		chain, err := r.store.ListBySolicitationBase(ctx, base)
		if err != nil {
			return nil, eris.Wrap(err, "resolver: list solicitation chain")
		}
		for i := range chain {
			c := &chain[i]
			if c.NoticeID == notice.NoticeID || c.IsSuperseded() {
				continue
			}
			if c.PostedDate.After(notice.PostedDate) {
				continue
			}
			return c, nil
		}
	}

	if notice.Department == "" || notice.ClassificationCode == "" {
		return nil, nil
	}
	candidates, err := r.store.ListPredecessorCandidates(ctx, notice.Department, notice.ClassificationCode, notice.PostedDate)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: list predecessor candidates")
	}
	// Most recently posted qualifier wins; among equally recent candidates
	// the longest shared title prefix breaks the tie.
	var best *model.Opportunity
	bestPrefix := -1
	for i := range candidates {
		c := &candidates[i]
		if c.NoticeID == notice.NoticeID {
			continue
		}
		if TitleSimilarity(notice.Title, c.Title) < r.cfg.SimilarityThreshold {
			continue
		}
		if best != nil && c.PostedDate.Before(best.PostedDate) {
			break
		}
		if p := commonPrefixLen(notice.Title, c.Title); p > bestPrefix {
			best, bestPrefix = c, p
		}
	}
	return best, nil
}

func opportunityFromNotice(n model.Notice) *model.Opportunity {
	return &model.Opportunity{
		NoticeID:           n.NoticeID,
		Title:              n.Title,
		Department:         n.Department,
		SolicitationNumber: n.SolicitationNumber,
		ClassificationCode: n.ClassificationCode,
		NAICSCode:          n.NAICSCode,
		SetAside:           n.SetAside,
		PlaceOfPerformance: n.PlaceOfPerformance,
		Description:        n.Description,
		PostedDate:         n.PostedDate,
		ResponseDeadline:   n.ResponseDeadline,
		Link:               n.Link,
		ReviewForBid:       model.ReviewPending,
		RecommendBid:       model.ReviewPending,
	}
}

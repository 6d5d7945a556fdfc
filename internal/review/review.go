// Package review applies the human review workflow: match status transitions
// and opportunity bid flags.
package review

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/events"
	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
	"github.com/sells-group/fedmatch/internal/store"
)

// matchTransitions is the allowed status graph. Terminal states have no
// outgoing edges; a wrong confirm or reject is corrected by deleting the
// match and re-running search, not by reopening it.
var matchTransitions = map[model.MatchStatus][]model.MatchStatus{
	model.MatchPendingReview: {model.MatchConfirmed, model.MatchRejected, model.MatchNeedsInfo},
	model.MatchNeedsInfo:     {model.MatchConfirmed, model.MatchRejected},
}

// CanTransition reports whether a match may move from one status to another.
func CanTransition(from, to model.MatchStatus) bool {
	for _, t := range matchTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Service executes review actions against the store.
type Service struct {
	store    store.Store
	notifier *events.Notifier
}

// New creates a review Service. notifier may be nil.
func New(st store.Store, notifier *events.Notifier) *Service {
	return &Service{store: st, notifier: notifier}
}

// TransitionMatch moves a match to target and stamps the reviewer. Illegal
// transitions fail with the current status attached so the caller can report
// what is actually valid.
func (s *Service) TransitionMatch(ctx context.Context, id string, target model.MatchStatus, notes, reviewedBy string) (*model.Match, error) {
	if !target.Valid() {
		return nil, resilience.NewValidationError("status", "unknown status "+string(target))
	}

	m, err := s.store.GetMatchByID(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review: load match %s", id)
	}
	if m == nil {
		return nil, eris.Errorf("review: match %s not found", id)
	}

	if !CanTransition(m.Status, target) {
		return nil, &resilience.InvalidTransitionError{Current: string(m.Status), Target: string(target)}
	}

	now := time.Now().UTC()
	if err := s.store.SetMatchStatus(ctx, id, m.Status, target, notes, reviewedBy, now); err != nil {
		if resilience.IsConflict(err) {
			// Another reviewer moved the match between our read and write.
			// Report the transition against the status that actually won.
			fresh, rerr := s.store.GetMatchByID(ctx, id)
			if rerr != nil || fresh == nil {
				return nil, eris.Wrapf(err, "review: transition match %s", id)
			}
			return nil, &resilience.InvalidTransitionError{Current: string(fresh.Status), Target: string(target)}
		}
		return nil, eris.Wrapf(err, "review: transition match %s", id)
	}

	zap.L().Info("match status changed",
		zap.String("component", "review"),
		zap.String("match_id", id),
		zap.String("from", string(m.Status)),
		zap.String("to", string(target)),
		zap.String("reviewed_by", reviewedBy),
	)
	s.notifier.Emit(ctx, events.EventMatchStatusChanged, map[string]any{
		"match_id": id,
		"from":     string(m.Status),
		"to":       string(target),
	})

	return s.store.GetMatchByID(ctx, id)
}

// DeleteMatch removes a match outright. Deletion is destructive rather than a
// transition, so it is allowed from any status, terminal ones included.
func (s *Service) DeleteMatch(ctx context.Context, id string) error {
	m, err := s.store.GetMatchByID(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "review: load match %s", id)
	}
	if m == nil {
		return eris.Errorf("review: match %s not found", id)
	}
	if err := s.store.DeleteMatch(ctx, id); err != nil {
		return eris.Wrapf(err, "review: delete match %s", id)
	}
	zap.L().Info("match deleted",
		zap.String("component", "review"),
		zap.String("match_id", id),
		zap.String("status", string(m.Status)),
	)
	return nil
}

// ReviewOpportunity sets the bid workflow flags on an opportunity. Unlike
// match statuses these flags are free-form: any combination is reachable from
// any other, so only value validity is checked.
func (s *Service) ReviewOpportunity(ctx context.Context, id string, forBid, recommend model.ReviewFlag, comments, reviewedBy string) (*model.Opportunity, error) {
	if !forBid.Valid() {
		return nil, resilience.NewValidationError("review_for_bid", "unknown flag "+string(forBid))
	}
	if !recommend.Valid() {
		return nil, resilience.NewValidationError("recommend_bid", "unknown flag "+string(recommend))
	}

	opp, err := s.store.GetOpportunityByID(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review: load opportunity %s", id)
	}
	if opp == nil {
		return nil, eris.Errorf("review: opportunity %s not found", id)
	}

	now := time.Now().UTC()
	if err := s.store.SetReviewFlags(ctx, id, forBid, recommend, comments, reviewedBy, now); err != nil {
		return nil, eris.Wrapf(err, "review: set flags on %s", id)
	}

	zap.L().Info("opportunity reviewed",
		zap.String("component", "review"),
		zap.String("opportunity_id", id),
		zap.String("review_for_bid", string(forBid)),
		zap.String("recommend_bid", string(recommend)),
		zap.String("reviewed_by", reviewedBy),
	)

	return s.store.GetOpportunityByID(ctx, id)
}

// Follow marks or unmarks an opportunity as followed.
func (s *Service) Follow(ctx context.Context, id string, followed bool) error {
	opp, err := s.store.GetOpportunityByID(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "review: load opportunity %s", id)
	}
	if opp == nil {
		return eris.Errorf("review: opportunity %s not found", id)
	}
	if err := s.store.SetFollowed(ctx, id, followed); err != nil {
		return eris.Wrapf(err, "review: set followed on %s", id)
	}
	return nil
}

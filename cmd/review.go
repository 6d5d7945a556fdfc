package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Apply human review decisions",
}

var reviewMatchCmd = &cobra.Command{
	Use:   "match MATCH_ID",
	Short: "Move a match through the review workflow",
	Long: `Transitions a match to a new status. Pending matches accept confirmed,
rejected, or needs_info; needs_info accepts confirmed or rejected. Confirmed
and rejected are terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()
		status, _ := f.GetString("status")
		notes, _ := f.GetString("notes")
		by, _ := f.GetString("by")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc := review.New(st, newNotifier())
		m, err := svc.TransitionMatch(ctx, args[0], model.MatchStatus(status), notes, by)
		if err != nil {
			return err
		}
		zap.L().Info("match reviewed",
			zap.String("match_id", m.ID),
			zap.String("status", string(m.Status)),
		)
		return nil
	},
}

var reviewOpportunityCmd = &cobra.Command{
	Use:   "opportunity OPPORTUNITY_ID",
	Short: "Set bid review flags on an opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()
		forBid, _ := f.GetString("for-bid")
		recommend, _ := f.GetString("recommend")
		comments, _ := f.GetString("comments")
		by, _ := f.GetString("by")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc := review.New(st, newNotifier())
		opp, err := svc.ReviewOpportunity(ctx, args[0],
			model.ReviewFlag(forBid), model.ReviewFlag(recommend), comments, by)
		if err != nil {
			return err
		}
		zap.L().Info("opportunity reviewed",
			zap.String("notice_id", opp.NoticeID),
			zap.String("review_for_bid", string(opp.ReviewForBid)),
			zap.String("recommend_bid", string(opp.RecommendBid)),
		)
		return nil
	},
}

var reviewDeleteCmd = &cobra.Command{
	Use:   "delete MATCH_ID",
	Short: "Delete a match outright",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return eris.New("deletion is destructive; pass --yes to confirm")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc := review.New(st, newNotifier())
		return svc.DeleteMatch(ctx, args[0])
	},
}

var reviewFollowCmd = &cobra.Command{
	Use:   "follow OPPORTUNITY_ID",
	Short: "Follow or unfollow an opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		off, _ := cmd.Flags().GetBool("off")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc := review.New(st, newNotifier())
		return svc.Follow(ctx, args[0], !off)
	},
}

func init() {
	f := reviewMatchCmd.Flags()
	f.String("status", "", "target status: confirmed, rejected, or needs_info")
	f.String("notes", "", "reviewer notes")
	f.String("by", "", "reviewer identity")
	_ = reviewMatchCmd.MarkFlagRequired("status")

	f = reviewOpportunityCmd.Flags()
	f.String("for-bid", string(model.ReviewPending), "review-for-bid flag: Pending, Yes, or No")
	f.String("recommend", string(model.ReviewPending), "recommend-bid flag: Pending, Yes, or No")
	f.String("comments", "", "reviewer comments")
	f.String("by", "", "reviewer identity")

	reviewDeleteCmd.Flags().Bool("yes", false, "confirm deletion")
	reviewFollowCmd.Flags().Bool("off", false, "unfollow instead of follow")

	reviewCmd.AddCommand(reviewMatchCmd, reviewOpportunityCmd, reviewDeleteCmd, reviewFollowCmd)
	rootCmd.AddCommand(reviewCmd)
}

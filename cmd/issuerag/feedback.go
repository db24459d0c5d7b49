package main

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/spf13/cobra"
)

func newFeedbackCmd(opts *rootOptions) *cobra.Command {
	var req retrieval.FeedbackRequest
	var rating int
	var signal string
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record a judgement of a query's results",
		Long: `Record feedback for a query. Query IDs are only remembered by a running
server, so from the command line pass --query with the scores or distances
the query printed.`,
		Example: `  issuerag feedback --query "refund timeout" --rating 4 --scores 0.82,0.40 --distances 0.95,1.5
  issuerag feedback --query "login loop" --signal negative`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("rating") {
				req.Rating = feedback.Rate(rating)
			}
			sig, err := feedback.ParseSignal(signal)
			if err != nil {
				return err
			}
			req.Signal = sig

			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.reg.Retrieval().Feedback(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entry)
		},
	}
	cmd.Flags().StringVar(&req.QueryID, "query-id", "", "ID of a query answered by this process")
	cmd.Flags().StringVar(&req.Query, "query", "", "query text")
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1..5")
	cmd.Flags().StringVar(&signal, "signal", "", "implicit signal: positive, negative or none")
	cmd.Flags().StringVar(&req.Category, "category", "", "category of the judged results")
	cmd.Flags().StringVar(&req.Comment, "comment", "", "free-form comment")
	cmd.Flags().Float64SliceVar(&req.Scores, "scores", nil, "result scores, best first")
	cmd.Flags().Float64SliceVar(&req.Distances, "distances", nil, "result distances, best first")
	return cmd
}

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	var since time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize retrieval quality from recorded feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := window(since, limit)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.reg.Retrieval().Metrics(ctx, w)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), m)
		},
	}
	addWindowFlags(cmd, &since, &limit)
	return cmd
}

func addWindowFlags(cmd *cobra.Command, since *time.Duration, limit *int) {
	cmd.Flags().DurationVar(since, "since", 0, "only feedback newer than this, e.g. 168h")
	cmd.Flags().IntVar(limit, "limit", 0, "only the most recent N entries")
}

func window(since time.Duration, limit int) (feedback.Window, error) {
	if since < 0 {
		return feedback.Window{}, fmt.Errorf("--since must not be negative")
	}
	if limit < 0 {
		return feedback.Window{}, fmt.Errorf("--limit must not be negative")
	}
	w := feedback.Window{Limit: limit}
	if since > 0 {
		w.Since = time.Now().Add(-since)
	}
	return w, nil
}

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/usertrack/internal/report"
	"github.com/roach88/usertrack/internal/store"
)

// ReviewsOptions holds flags for the reviews command.
type ReviewsOptions struct {
	*RootOptions
	Kind  string
	Since time.Duration
	Limit int
}

// NewReviewsCommand creates the reviews command.
func NewReviewsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReviewsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "List sessions and accounts queued for manual review",
		Long: `List the manual review queue: accounts that matched more than one
registry user (ambiguous_account) and session tokens several users resolved
on (shared_session).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReviews(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only this kind (ambiguous_account|shared_session)")
	cmd.Flags().DurationVar(&opts.Since, "since", 0, "only items observed within this duration (e.g. 24h)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of items")

	return cmd
}

func runReviews(opts *ReviewsOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	filter := store.ReviewFilter{Kind: store.ReviewKind(opts.Kind), Limit: opts.Limit}
	switch filter.Kind {
	case "", store.ReviewAmbiguousAccount, store.ReviewSharedSession:
	default:
		return f.Fail(ExitCommandError, ErrCodeArgs, fmt.Sprintf("unknown review kind %q", opts.Kind), nil)
	}
	if opts.Since > 0 {
		filter.Since = opts.now().Add(-opts.Since)
	}

	st, err := openLedger(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer st.Close()

	reviews, err := st.ListReviews(cmd.Context(), filter)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeStore, "failed to list reviews", err)
	}
	if reviews == nil {
		reviews = []store.Review{}
	}
	return f.Render(reviews, func(w io.Writer) error {
		return report.WriteReviews(w, reviews)
	})
}

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Limit int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show the run ledger",
		Long: `List recent runs, newest first, with their window, status and counts.
With a run id only that run is shown.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs")

	return cmd
}

func runRuns(opts *RunsOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, err := openLedger(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer st.Close()

	var runs []store.Run
	if len(args) == 1 {
		r, err := st.Run(cmd.Context(), args[0])
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeStore, "failed to read run "+args[0], err)
		}
		runs = []store.Run{r}
	} else {
		runs, err = st.RecentRuns(cmd.Context(), opts.Limit)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeStore, "failed to list runs", err)
		}
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return f.Render(runs, func(w io.Writer) error {
		return report.WriteRuns(w, runs)
	})
}

func openLedger(opts *RootOptions, f *OutputFormatter) (*store.Store, error) {
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStore, "failed to open run ledger", err)
	}
	return st, nil
}

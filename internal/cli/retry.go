package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/usertrack/internal/report"
	"github.com/roach88/usertrack/internal/retry"
)

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "List records waiting for the registry to catch up",
		Long: `List the unresolved records held in the retry store. Records expire
once they have been held longer than retry.retention; expired records are
not shown. The store is only read.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetryList(rootOpts, cmd)
		},
	}
}

func runRetryList(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	rs, err := retry.Open(cfg.Retry.Path, retry.Options{
		Retention: cfg.Retry.Retention,
		Now:       opts.now,
	})
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeRetry, "failed to read retry store", err)
	}

	view := report.NewRetryView(rs)
	return f.Render(view, func(w io.Writer) error {
		return report.WritePending(w, view)
	})
}

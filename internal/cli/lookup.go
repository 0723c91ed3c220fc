package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/report"
	"github.com/roach88/usertrack/internal/session"
)

// DefaultLookback is the lookup range when --from is not given.
const DefaultLookback = 72 * time.Hour

// LookupOptions holds flags for the lookup command.
type LookupOptions struct {
	*RootOptions
	From   string
	To     string
	Detail bool
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LookupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lookup <account>",
		Short: "Show what an account did",
		Long: `Report every session an account logged in on, who else was seen on
those sessions, and the requests made on each.

Without --from/--to the last three days are searched. --detail adds the
request line and body of every request.

Example:
  usertrack lookup 13800000001
  usertrack lookup 13800000001 --from "2024-03-01 00:00:00" --detail`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "range start (default: three days before --to)")
	cmd.Flags().StringVar(&opts.To, "to", "", "range end (default: now)")
	cmd.Flags().BoolVar(&opts.Detail, "detail", false, "include request line and body")

	return cmd
}

func runLookup(opts *LookupOptions, account string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	log := opts.logger(cmd)

	if _, err := model.CanonicalAccount(account); err != nil {
		return f.Fail(ExitCommandError, ErrCodeArgs, "invalid account", err)
	}
	window, err := parseWindow(opts.From, opts.To, func(from, to time.Time) model.Window {
		if to.IsZero() {
			to = opts.now().In(model.Zone).Truncate(time.Second)
		}
		if from.IsZero() {
			from = to.Add(-DefaultLookback)
		}
		return model.Window{From: from, To: to}
	})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeArgs, "invalid range", err)
	}

	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	es, err := newSearchClient(cfg, log)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to create search client", err)
	}

	lookup := session.Lookup{
		Resolved:        es,
		ResolvedIndices: cfg.Indices.Output,
		Propagator:      session.Propagator{Source: es, Indices: cfg.Indices.Input},
	}

	ctx, stop := signalContext(cmd, log)
	defer stop()

	log.Debug("lookup", "account", account, "from", model.FormatTime(window.From), "to", model.FormatTime(window.To))
	rep, err := lookup.Account(ctx, account, *window)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeLookup, "lookup failed", err)
	}

	mode := report.Simple
	if opts.Detail {
		mode = report.Detail
	}
	return f.Render(report.NewLookupView(rep, mode), func(w io.Writer) error {
		return report.WriteLookup(w, rep, mode)
	})
}

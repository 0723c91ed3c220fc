package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/usertrack/internal/config"
	"github.com/roach88/usertrack/internal/pipeline"
	"github.com/roach88/usertrack/internal/registry"
	"github.com/roach88/usertrack/internal/report"
	"github.com/roach88/usertrack/internal/retry"
	"github.com/roach88/usertrack/internal/rules"
	"github.com/roach88/usertrack/internal/search"
	"github.com/roach88/usertrack/internal/session"
	"github.com/roach88/usertrack/internal/sink"
	"github.com/roach88/usertrack/internal/store"
	"github.com/roach88/usertrack/internal/watermark"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DryRun bool
	From   string
	To     string

	// IDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs pipeline.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Correlate the records that arrived since the last run",
		Long: `Run one correlation batch.

The window starts one second after the newest resolved record and ends one
safety margin before the newest ingested record. --from/--to replace it,
which is how a past range is reprocessed. Output documents are keyed by
content: the index overwrites them and the resolved and activity logs skip
keys they already hold, so reprocessing does not duplicate output.

Example:
  usertrack run --config configs/usertrack.yaml
  usertrack run --dry-run --from "2024-03-01 09:00:00" --to "2024-03-01 10:00:00"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute the window and partitions without writing anything")
	cmd.Flags().StringVar(&opts.From, "from", "", "window start (+08:00 wall time or RFC 3339)")
	cmd.Flags().StringVar(&opts.To, "to", "", "window end, inclusive")

	return cmd
}

func runBatch(opts *RunOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	log := opts.logger(cmd)

	cfg, err := opts.loadConfig(f)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	window, err := parseWindow(opts.From, opts.To, nil)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeArgs, "invalid window", err)
	}

	set, err := rules.LoadFile(cfg.Rules)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRules, "failed to load rules", err)
	}
	log.Debug("rules loaded", "path", cfg.Rules, "rules", len(set.Rules))

	es, err := newSearchClient(cfg, log)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to create search client", err)
	}

	reg, err := registry.Open(cfg.Registry.Driver, cfg.Registry.DSN, registry.Options{
		Query:   cfg.Registry.Query,
		Timeout: cfg.Registry.Timeout,
		Logger:  log,
	})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to open registry", err)
	}
	defer closeLogged(log, "registry", reg)

	tag, _ := retry.ParseCompressionTag(cfg.Retry.Compression)
	rs, err := retry.Open(cfg.Retry.Path, retry.Options{
		Retention:   cfg.Retry.Retention,
		Compression: tag,
		Now:         opts.now,
	})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRetry, "failed to open retry store", err)
	}

	p := &pipeline.Pipeline{
		Rules:        set,
		Window:       newTracker(cfg, es),
		Fetcher:      es,
		InputIndices: cfg.Indices.Input,
		Registry:     reg,
		Retry:        rs,
		Sinks:        newSinks(cfg, es),
		Propagate:    cfg.Propagate,
		Backfill:     session.Propagator{Source: es, Indices: cfg.Indices.Input},
		IDs:          opts.IDs,
		Now:          opts.now,
		Logger:       log,
	}

	// Earlier logins are only searchable when resolved records are indexed.
	if cfg.Sinks.Index && len(cfg.Indices.Output) > 0 {
		p.History = session.History{Source: es, Indices: cfg.Indices.Output, Lookback: cfg.SessionLookback}
	}

	// A dry run leaves no trace, not even a ledger file.
	if !opts.DryRun {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, "failed to open run ledger", err)
		}
		defer closeLogged(log, "run ledger", st)
		p.Ledger = st
	}

	ctx, stop := signalContext(cmd, log)
	defer stop()

	sum, err := p.Run(ctx, pipeline.Options{DryRun: opts.DryRun, Window: window})
	if err != nil {
		code := string(pipeline.Code(err))
		if code == "" {
			code = ErrCodeGeneric
		}
		return f.Fail(ExitFailure, code, "run "+sum.RunID+" failed", err)
	}

	return f.Render(report.NewRunView(sum), func(w io.Writer) error {
		return report.WriteRun(w, sum)
	})
}

// newTracker picks the output watermark: the newest resolved document in
// the output indices, or the newest line of the resolved log.
func newTracker(cfg *config.Config, es *search.Client) watermark.Tracker {
	var output watermark.Source = search.IndexWatermark{Client: es, Indices: cfg.Indices.Output}
	if cfg.Watermark.Source == config.WatermarkFile {
		output = sink.NewLineSink(cfg.Sinks.ResolvedLog)
	}
	return watermark.Tracker{
		Output:       output,
		Input:        search.IndexWatermark{Client: es, Indices: cfg.FreshnessIndices()},
		SafetyMargin: cfg.Watermark.SafetyMargin,
		Step:         watermark.DefaultStep,
	}
}

func newSinks(cfg *config.Config, es *search.Client) pipeline.Sinks {
	var resolved sink.Multi
	if cfg.Sinks.ResolvedLog != "" {
		resolved = append(resolved, sink.NewKeyedLineSink(cfg.Sinks.ResolvedLog))
	}
	if cfg.Sinks.Index {
		resolved = append(resolved, sink.IndexSink{Client: es, Prefix: cfg.Indices.OutputPrefix})
	}

	s := pipeline.Sinks{Resolved: resolved}
	if cfg.Sinks.NoMatchLog != "" {
		s.NoMatch = sink.NewLineSink(cfg.Sinks.NoMatchLog)
	}
	if cfg.Sinks.ActivityLog != "" {
		s.Activity = sink.NewKeyedLineSink(cfg.Sinks.ActivityLog)
	}
	return s
}

func closeLogged(log *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Error("error closing "+what, "error", err)
	}
}

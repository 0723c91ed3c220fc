package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/usertrack/internal/extract"
	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/resolve"
	"github.com/roach88/usertrack/internal/rules"
	"github.com/roach88/usertrack/internal/session"
	"github.com/roach88/usertrack/internal/sink"
	"github.com/roach88/usertrack/internal/store"
)

// WindowSource yields the next processing window. *watermark.Tracker
// satisfies it.
type WindowSource interface {
	NextWindow(ctx context.Context) (model.Window, error)
}

// AccessFetcher scans raw access records. *search.Client satisfies it.
type AccessFetcher interface {
	ScanAccess(ctx context.Context, q model.Query) iter.Seq2[model.AccessRecord, error]
}

// Registry provides the user registry snapshot. *registry.Registry
// satisfies it.
type Registry interface {
	Snapshot(ctx context.Context) ([]model.UserRecord, error)
}

// RetryStore holds unresolved records between runs. *retry.Store
// satisfies it.
type RetryStore interface {
	TakeAll() ([]model.UnresolvedRecord, error)
	Put(records []model.UnresolvedRecord) error
	Expired() int
}

// Ledger records runs and review items. *store.Store satisfies it.
type Ledger interface {
	BeginRun(ctx context.Context, id string, startedAt time.Time, dryRun bool) error
	FinishRun(ctx context.Context, r store.Run) error
	AddReviews(ctx context.Context, runID string, createdAt time.Time, items []store.Review) (int, error)
}

// IdentityHistory finds identities resolved by earlier runs.
// session.History satisfies it.
type IdentityHistory interface {
	Identities(ctx context.Context, tokens []string, w model.Window) ([]model.ResolvedRecord, error)
}

// SessionFetcher builds a session narrative from the search cluster.
// session.Propagator satisfies it.
type SessionFetcher interface {
	Propagate(ctx context.Context, token string, identities []model.ResolvedRecord, w model.Window) (*session.Narrative, error)
}

// Sinks are the run's outputs. Nil sinks are skipped.
type Sinks struct {
	// Resolved receives every resolved record (behaviorTracks.log and/or
	// the monthly output index).
	Resolved sink.Sink
	// NoMatch receives unidentified candidates and newly unresolved
	// records. Diagnostic only.
	NoMatch sink.Sink
	// Activity receives session-propagated requests.
	Activity sink.Sink
}

// Pipeline wires the collaborators of a run.
type Pipeline struct {
	Rules        *rules.RuleSet
	Window       WindowSource
	Fetcher      AccessFetcher
	InputIndices []string
	Registry     Registry
	Retry        RetryStore
	Sinks        Sinks

	// Ledger is optional.
	Ledger Ledger

	// Propagate enables session propagation over the fetched records.
	Propagate bool
	// History, when set, supplies identities for sessions with no login
	// in the batch.
	History IdentityHistory
	// Backfill, when set, attributes the requests a carried login made
	// before the window once it resolves.
	Backfill SessionFetcher

	IDs    RunIDGenerator
	Now    func() time.Time
	Logger *slog.Logger
}

// Options tune a single run.
type Options struct {
	// DryRun computes everything and writes nothing: no sinks, no retry
	// store, no ledger.
	DryRun bool

	// Window overrides the watermark-derived window.
	Window *model.Window
}

// Summary describes a finished run.
type Summary struct {
	RunID  string
	Window model.Window
	DryRun bool
	Status store.RunStatus
	Counts store.Counts

	Resolved     []model.ResolvedRecord
	Unresolved   []model.UnresolvedRecord
	Ambiguous    []model.UnresolvedRecord
	Unidentified []model.IdentityCandidate
	Sessions     []*session.Narrative
	Anomalies    []*session.Narrative
}

// NoRecord reports whether the run had nothing to work on.
func (s *Summary) NoRecord() bool {
	return s.Counts.Fetched == 0 && s.Counts.Carried == 0
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (p *Pipeline) runID() string {
	if p.IDs != nil {
		return p.IDs.Generate()
	}
	return UUIDv7Generator{}.Generate()
}

// Run executes one batch.
func (p *Pipeline) Run(ctx context.Context, opts Options) (sum *Summary, err error) {
	started := p.now()
	sum = &Summary{RunID: p.runID(), DryRun: opts.DryRun, Status: store.StatusRunning}
	log := p.logger().With("run_id", sum.RunID)

	ledger := p.Ledger
	if opts.DryRun {
		ledger = nil
	}
	if ledger != nil {
		if lerr := ledger.BeginRun(ctx, sum.RunID, started, opts.DryRun); lerr != nil {
			return sum, newRunError(ErrCodeLedgerFailed, sum.RunID, "record run start", lerr)
		}
		defer func() {
			if ferr := p.finish(ctx, ledger, sum, err); ferr != nil && err == nil {
				err = ferr
			}
		}()
	}

	if err := p.run(ctx, log, opts, sum, ledger); err != nil {
		sum.Status = store.StatusFailed
		log.Error("run failed", "code", string(Code(err)), "error", err)
		return sum, err
	}

	log.Info("run complete",
		"status", string(sum.Status),
		"window_from", model.FormatTime(sum.Window.From),
		"window_to", model.FormatTime(sum.Window.To),
		"fetched", sum.Counts.Fetched,
		"candidates", sum.Counts.Candidates,
		"carried", sum.Counts.Carried,
		"resolved", sum.Counts.Resolved,
		"unresolved", sum.Counts.Unresolved,
		"unidentified", sum.Counts.Unidentified,
		"ambiguous", sum.Counts.Ambiguous,
		"anomalies", sum.Counts.Anomalies,
		"dry_run", opts.DryRun,
		"elapsed", p.now().Sub(started),
	)
	return sum, nil
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, opts Options, sum *Summary, ledger Ledger) error {
	// Window.
	if opts.Window != nil {
		sum.Window = *opts.Window
	} else {
		w, err := p.Window.NextWindow(ctx)
		if err != nil {
			return newRunError(ErrCodeNoWatermark, sum.RunID, "cannot determine window", err)
		}
		sum.Window = w
	}

	// Fetch. An empty window fetches nothing; carried records are still
	// retried below.
	var records []model.AccessRecord
	if sum.Window.Empty() {
		log.Info("window is empty, retrying carried records only", "window", sum.Window.String())
	} else {
		var err error
		if records, err = p.fetch(ctx, sum.Window); err != nil {
			return newRunError(ErrCodeFetchFailed, sum.RunID, "scan access log", err)
		}
	}
	sum.Counts.Fetched = len(records)

	// Extract.
	candidates := extract.Batch(records, p.Rules)
	sum.Counts.Candidates = len(candidates)
	log.Debug("extracted", "window", sum.Window.String(), "fetched", len(records), "candidates", len(candidates))

	// Carried records. Taking them does not touch the file; it is only
	// rewritten by Put below.
	carried, err := p.Retry.TakeAll()
	if err != nil {
		return newRunError(ErrCodeRetryPersist, sum.RunID, "read retry store", err)
	}
	sum.Counts.Carried = len(carried)
	if n := p.Retry.Expired(); n > 0 {
		log.Info("retry records expired", "expired", n)
	}
	if sum.Window.Empty() && len(carried) == 0 {
		sum.Status = store.StatusEmpty
		return nil
	}

	// Registry snapshot.
	users, err := p.Registry.Snapshot(ctx)
	if err != nil {
		return newRunError(ErrCodeRegistryUnavailable, sum.RunID, "read registry snapshot", err)
	}
	idx := resolve.NewIndex(users)
	if dups := idx.Duplicates(); len(dups) > 0 {
		log.Warn("registry has duplicate accounts", "accounts", len(dups))
	}

	// Resolve.
	now := p.now()
	result := resolve.Resolve(candidates, carried, idx, now)
	sum.Resolved = result.Resolved
	sum.Unresolved = result.Unresolved
	sum.Ambiguous = result.Ambiguous
	sum.Unidentified = result.Unidentified
	sum.Counts.Resolved = len(result.Resolved)
	sum.Counts.Unresolved = len(result.Unresolved)
	sum.Counts.Unidentified = len(result.Unidentified)
	sum.Counts.Ambiguous = len(result.Ambiguous)

	// Session propagation.
	if p.Propagate {
		if err := p.propagate(ctx, log, sum, records); err != nil {
			return newRunError(ErrCodeFetchFailed, sum.RunID, "propagate sessions", err)
		}
	}

	if sum.NoRecord() {
		log.Info("no record", "window", sum.Window.String())
		sum.Status = store.StatusEmpty
	} else {
		sum.Status = store.StatusOK
	}

	if opts.DryRun {
		return nil
	}

	// A resolved record leaves the retry store only after it is written
	// out; see package doc.
	if s := p.Sinks.Resolved; s != nil {
		if err := s.Write(ctx, sink.Resolved(sum.Resolved)); err != nil {
			return newRunError(ErrCodeSinkFailed, sum.RunID, "write resolved output", err)
		}
	}

	if err := p.Retry.Put(result.Unresolved); err != nil {
		return newRunError(ErrCodeRetryPersist, sum.RunID, "write retry store", err)
	}

	if ledger != nil {
		if err := p.queueReviews(ctx, log, ledger, now, sum); err != nil {
			return newRunError(ErrCodeLedgerFailed, sum.RunID, "queue reviews", err)
		}
	}

	if err := p.writeDiagnostics(ctx, now, sum); err != nil {
		return newRunError(ErrCodeSinkFailed, sum.RunID, "write diagnostics", err)
	}
	return nil
}

// propagate spreads the run's identities over session activity: the
// fetched records, sessions whose login an earlier run resolved, and the
// requests a late-resolved login made before the window.
func (p *Pipeline) propagate(ctx context.Context, log *slog.Logger, sum *Summary, records []model.AccessRecord) error {
	identities := sum.Resolved
	if p.History != nil && len(records) > 0 {
		prior, err := p.History.Identities(ctx, session.Unattributed(records, sum.Resolved), sum.Window)
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			log.Debug("identities from earlier runs", "resolved", len(prior))
			identities = append(slices.Clone(sum.Resolved), prior...)
		}
	}
	sessions := session.Group(sum.Window, records, identities)

	if p.Backfill != nil {
		// Everything from the window start on is covered by Group.
		end := sum.Window.To
		if !sum.Window.Empty() {
			end = sum.Window.From.Add(-time.Second)
		}
		late := make(map[string][]model.ResolvedRecord)
		for _, r := range sum.Resolved {
			if r.SessionID() != "" && r.Timestamp().Before(sum.Window.From) {
				late[r.SessionID()] = append(late[r.SessionID()], r)
			}
		}
		for _, tok := range slices.Sorted(maps.Keys(late)) {
			start := late[tok][0].Timestamp()
			for _, r := range late[tok][1:] {
				if r.Timestamp().Before(start) {
					start = r.Timestamp()
				}
			}
			if end.Before(start) {
				continue
			}
			n, err := p.Backfill.Propagate(ctx, tok, late[tok], model.Window{From: start, To: end})
			if err != nil {
				return err
			}
			sessions = append(sessions, n)
		}
	}

	slices.SortStableFunc(sessions, func(a, b *session.Narrative) int {
		if c := strings.Compare(a.SessionID, b.SessionID); c != 0 {
			return c
		}
		return a.Window.From.Compare(b.Window.From)
	})
	sum.Sessions = sessions
	sum.Anomalies = session.Anomalies(sessions)
	sum.Counts.Anomalies = len(sum.Anomalies)
	for _, n := range sum.Anomalies {
		log.Warn("session shared by several users", "session_id", n.SessionID, "user_ids", n.UserIDs())
	}
	return nil
}

func (p *Pipeline) fetch(ctx context.Context, w model.Window) ([]model.AccessRecord, error) {
	q := model.Query{
		Indices: p.InputIndices,
		Fields:  model.AccessFields,
		Window:  w,
		Exists:  []string{model.FieldSessionID},
	}
	var records []model.AccessRecord
	for rec, err := range p.Fetcher.ScanAccess(ctx, q) {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// writeDiagnostics writes the no-match log and session activity. Both are
// attempted; their errors are joined.
func (p *Pipeline) writeDiagnostics(ctx context.Context, now time.Time, sum *Summary) error {
	var errs []error

	if s := p.Sinks.NoMatch; s != nil {
		items := sink.Candidates(sum.Unidentified)
		// Carried records were logged when they first failed.
		var fresh []model.UnresolvedRecord
		for _, u := range sum.Unresolved {
			if u.CreatedAt.Equal(now) {
				fresh = append(fresh, u)
			}
		}
		items = append(items, sink.Unresolved(fresh)...)
		if err := s.Write(ctx, items); err != nil {
			errs = append(errs, fmt.Errorf("no-match log: %w", err))
		}
	}

	if s := p.Sinks.Activity; s != nil {
		var items []sink.Item
		for _, n := range sum.Sessions {
			items = append(items, n.Activity()...)
		}
		if err := s.Write(ctx, items); err != nil {
			errs = append(errs, fmt.Errorf("activity log: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) queueReviews(ctx context.Context, log *slog.Logger, ledger Ledger, now time.Time, sum *Summary) error {
	var items []store.Review
	for _, u := range sum.Ambiguous {
		account, _ := u.Candidate.Identifier.Value()
		items = append(items, store.Review{
			Kind:       store.ReviewAmbiguousAccount,
			SessionID:  u.Candidate.Record.SessionID,
			Account:    account,
			ObservedAt: u.Candidate.Record.Timestamp,
			UserIDs:    u.Matches,
		})
	}
	for _, n := range sum.Anomalies {
		observed := sum.Window.From
		if from, _, ok := n.Span(); ok {
			observed = from
		}
		items = append(items, store.Review{
			Kind:       store.ReviewSharedSession,
			SessionID:  n.SessionID,
			ObservedAt: observed,
			UserIDs:    n.UserIDs(),
		})
	}

	added, err := ledger.AddReviews(ctx, sum.RunID, now, items)
	if err != nil {
		return err
	}
	if added > 0 {
		log.Info("queued for review", "items", added)
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, ledger Ledger, sum *Summary, runErr error) error {
	finished := p.now()
	r := store.Run{
		ID:         sum.RunID,
		FinishedAt: &finished,
		Status:     sum.Status,
		Counts:     sum.Counts,
	}
	if !sum.Window.From.IsZero() {
		w := sum.Window
		r.Window = &w
	}
	if runErr != nil {
		r.Status = store.StatusFailed
		r.ErrorCode = string(Code(runErr))
		r.Error = runErr.Error()
	}

	// The run's own context may be cancelled; the ledger row still needs
	// its final state.
	if err := ledger.FinishRun(context.WithoutCancel(ctx), r); err != nil {
		p.logger().Warn("could not record run result", "run_id", sum.RunID, "error", err)
		return newRunError(ErrCodeLedgerFailed, sum.RunID, "record run result", err)
	}
	return nil
}

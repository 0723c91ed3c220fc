package pipeline

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/retry"
	"github.com/roach88/usertrack/internal/rules"
	"github.com/roach88/usertrack/internal/session"
	"github.com/roach88/usertrack/internal/sink"
	"github.com/roach88/usertrack/internal/store"
	"github.com/roach88/usertrack/internal/testutil"
)

const ruleYAML = `
rules:
  - name: login
    filter: {url: ["/dybuat/user/login.do", "/user/login.do"]}
    field: user_account
    pattern:
      request_body:
        - 'useraccount=(.*?)&'
        - 'name="useraccount"\s+(\d{11})\s+--'
`

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, model.Zone)

type fixedWindow struct {
	w   model.Window
	err error
}

func (f fixedWindow) NextWindow(context.Context) (model.Window, error) { return f.w, f.err }

type fakeFetcher struct {
	records   []model.AccessRecord
	err       error
	queries   []model.Query
	collected []model.Query
}

func (f *fakeFetcher) ScanAccess(_ context.Context, q model.Query) iter.Seq2[model.AccessRecord, error] {
	f.queries = append(f.queries, q)
	return func(yield func(model.AccessRecord, error) bool) {
		if f.err != nil {
			yield(model.AccessRecord{}, f.err)
			return
		}
		for _, r := range f.records {
			if q.Window.Contains(r.Timestamp) && !yield(r, nil) {
				return
			}
		}
	}
}

// CollectAccess serves session propagation from the same records.
func (f *fakeFetcher) CollectAccess(_ context.Context, q model.Query) ([]model.AccessRecord, error) {
	f.collected = append(f.collected, q)
	var out []model.AccessRecord
	for _, r := range f.records {
		if q.Window.Contains(r.Timestamp) && r.SessionID == q.Match[model.FieldSessionID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeOutput holds resolved records written by earlier runs.
type fakeOutput struct {
	resolved []model.ResolvedRecord
	queries  []model.Query
}

func (f *fakeOutput) CollectResolved(_ context.Context, q model.Query) ([]model.ResolvedRecord, error) {
	f.queries = append(f.queries, q)
	var out []model.ResolvedRecord
	for _, r := range f.resolved {
		if q.Window.Contains(r.Timestamp()) && slices.Contains(q.MatchAny[model.FieldSessionID], r.SessionID()) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRegistry struct {
	users []model.UserRecord
	err   error
}

func (f *fakeRegistry) Snapshot(context.Context) ([]model.UserRecord, error) { return f.users, f.err }

type failingSink struct{}

func (failingSink) Write(context.Context, []sink.Item) error { return errors.New("disk full") }

type harness struct {
	t        *testing.T
	dir      string
	clock    *testutil.FakeClock
	fetcher  *fakeFetcher
	registry *fakeRegistry
	output   *fakeOutput
	ledger   *store.Store
	ids      *testutil.SequentialRunIDs
	window   WindowSource
	sinks    Sinks
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	ledger, err := store.Open(filepath.Join(dir, "usertrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	return &harness{
		t:        t,
		dir:      dir,
		clock:    testutil.NewFakeClock(t0.Add(2 * time.Hour)),
		fetcher:  &fakeFetcher{},
		registry: &fakeRegistry{},
		output:   &fakeOutput{},
		ledger:   ledger,
		ids:      &testutil.SequentialRunIDs{},
		window:   fixedWindow{w: model.Window{From: t0, To: t0.Add(time.Hour)}},
		sinks: Sinks{
			Resolved: sink.NewKeyedLineSink(filepath.Join(dir, "behaviorTracks.log")),
			NoMatch:  sink.NewLineSink(filepath.Join(dir, "nomatch.log")),
			Activity: sink.NewKeyedLineSink(filepath.Join(dir, "sessionTracks.log")),
		},
	}
}

func (h *harness) pipeline() *Pipeline {
	h.t.Helper()
	set, err := rules.Parse([]byte(ruleYAML), rules.FormatYAML, "rules.yaml")
	require.NoError(h.t, err)

	rs, err := retry.Open(filepath.Join(h.dir, "retry.bin"), retry.Options{Now: h.clock.Now})
	require.NoError(h.t, err)

	return &Pipeline{
		Rules:        set,
		Window:       h.window,
		Fetcher:      h.fetcher,
		InputIndices: []string{"nginx_jcjact_*"},
		Registry:     h.registry,
		Retry:        rs,
		Sinks:        h.sinks,
		Ledger:       h.ledger,
		Propagate:    true,
		History:      session.History{Source: h.output, Indices: []string{"userbehavior_*"}},
		Backfill:     session.Propagator{Source: h.fetcher, Indices: []string{"nginx_jcjact_*"}},
		IDs:          h.ids,
		Now:          h.clock.Now,
	}
}

func (h *harness) lines(name string) []string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(h.t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func (h *harness) pending() []model.UnresolvedRecord {
	h.t.Helper()
	rs, err := retry.Open(filepath.Join(h.dir, "retry.bin"), retry.Options{Now: h.clock.Now})
	require.NoError(h.t, err)
	return rs.Pending()
}

func loginRecord(session, body string, offset time.Duration) model.AccessRecord {
	return model.AccessRecord{
		Timestamp:   t0.Add(offset),
		ClientIP:    "10.0.0.1",
		SessionID:   session,
		URL:         "/user/login.do",
		RequestBody: body,
		Agent:       "Mozilla/5.0",
		Status:      "200",
		HasStatus:   true,
	}
}

func pageRecord(session, url string, offset time.Duration) model.AccessRecord {
	return model.AccessRecord{Timestamp: t0.Add(offset), ClientIP: "10.0.0.1", SessionID: session, URL: url, Agent: "Mozilla/5.0"}
}

func TestRun_ResolvesAndPropagates(t *testing.T) {
	h := newHarness(t)
	h.registry.users = []model.UserRecord{{UserID: 7, Account: "13800000000", Name: "Li Lei", InviterID: 3}}
	h.fetcher.records = []model.AccessRecord{
		loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute),
		pageRecord("S1", "/app/orders", 2*time.Minute),
		pageRecord("S1", "/app/profile", 3*time.Minute),
	}

	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "run-0001", sum.RunID)
	assert.Equal(t, store.StatusOK, sum.Status)
	assert.Equal(t, 3, sum.Counts.Fetched)
	assert.Equal(t, 1, sum.Counts.Candidates)
	assert.Equal(t, 1, sum.Counts.Resolved)
	require.Len(t, sum.Resolved, 1)
	assert.Equal(t, int64(7), sum.Resolved[0].User.UserID)

	require.Len(t, sum.Sessions, 1)
	for _, e := range sum.Sessions[0].Entries {
		assert.True(t, e.Attributed)
		assert.Equal(t, int64(7), e.User.UserID)
	}

	assert.Len(t, h.lines("behaviorTracks.log"), 1)
	assert.Len(t, h.lines("sessionTracks.log"), 3)
	assert.Empty(t, h.lines("nomatch.log"))

	require.Len(t, h.fetcher.queries, 1)
	assert.Equal(t, []string{model.FieldSessionID}, h.fetcher.queries[0].Exists)

	r, err := h.ledger.Run(context.Background(), "run-0001")
	require.NoError(t, err)
	assert.Equal(t, store.StatusOK, r.Status)
	assert.Equal(t, 1, r.Counts.Resolved)
	require.NotNil(t, r.Window)
	assert.True(t, r.Window.From.Equal(t0))
}

func TestRun_UnmatchedRetriedUntilRegistryCatchesUp(t *testing.T) {
	h := newHarness(t)
	h.fetcher.records = []model.AccessRecord{loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute)}

	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Counts.Resolved)
	assert.Equal(t, 1, sum.Counts.Unresolved)
	assert.Len(t, h.lines("nomatch.log"), 1)

	// Next run: empty window of fresh records, registry now knows the user.
	h.clock.Advance(time.Minute)
	h.fetcher.records = nil
	h.registry.users = []model.UserRecord{{UserID: 7, Account: "13800000000"}}

	sum, err = h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts.Carried)
	assert.Equal(t, 1, sum.Counts.Resolved)
	assert.Equal(t, 0, sum.Counts.Unresolved)
	assert.Len(t, h.lines("behaviorTracks.log"), 1)
	assert.Len(t, h.lines("nomatch.log"), 1, "carried records are not logged again")

	// Third run: nothing left to carry.
	sum, err = h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Counts.Carried)
	assert.Len(t, h.lines("behaviorTracks.log"), 1, "resolved exactly once")
}

func TestRun_AbsentIdentifierGoesToNoMatchOnly(t *testing.T) {
	h := newHarness(t)
	h.fetcher.records = []model.AccessRecord{loginRecord("S1", "captcha=1234", time.Minute)}

	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts.Unidentified)
	assert.Equal(t, 0, sum.Counts.Unresolved)
	assert.Len(t, h.lines("nomatch.log"), 1)

	next, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, next.Counts.Carried)
}

func TestRun_SharedSessionAndAmbiguousAccountQueuedForReview(t *testing.T) {
	h := newHarness(t)
	h.registry.users = []model.UserRecord{
		{UserID: 7, Account: "13800000000"},
		{UserID: 9, Account: "13900000000"},
		{UserID: 11, Account: "13700000000"},
		{UserID: 12, Account: "13700000000"},
	}
	h.fetcher.records = []model.AccessRecord{
		loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute),
		loginRecord("S1", "useraccount=13900000000&pwd=x", 2*time.Minute),
		loginRecord("S2", "useraccount=13700000000&pwd=x", 3*time.Minute),
	}

	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts.Anomalies)
	assert.Equal(t, 1, sum.Counts.Ambiguous)
	assert.Empty(t, h.lines("sessionTracks.log"), "anomalous sessions are not attributed")

	reviews, err := h.ledger.ListReviews(context.Background(), store.ReviewFilter{})
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, store.ReviewSharedSession, reviews[0].Kind)
	assert.Equal(t, []int64{7, 9}, reviews[0].UserIDs)
	assert.Equal(t, store.ReviewAmbiguousAccount, reviews[1].Kind)
	assert.Equal(t, "13700000000", reviews[1].Account)
	assert.Equal(t, []int64{11, 12}, reviews[1].UserIDs)
}

func TestRun_EmptyWindow(t *testing.T) {
	h := newHarness(t)
	h.window = fixedWindow{w: model.Window{From: t0, To: t0.Add(-time.Second)}}

	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, store.StatusEmpty, sum.Status)
	assert.Empty(t, h.fetcher.queries, "nothing is fetched")
}

func TestRun_EmptyWindowStillRetriesCarried(t *testing.T) {
	h := newHarness(t)
	h.fetcher.records = []model.AccessRecord{loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute)}

	_, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, h.pending(), 1)

	// Ingestion stalls; the registry catches up meanwhile.
	h.window = fixedWindow{w: model.Window{From: t0.Add(time.Hour), To: t0.Add(30 * time.Minute)}}
	h.registry.users = []model.UserRecord{{UserID: 7, Account: "13800000000"}}
	h.clock.Advance(time.Minute)

	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, store.StatusOK, sum.Status)
	assert.Equal(t, 0, sum.Counts.Fetched)
	assert.Equal(t, 1, sum.Counts.Carried)
	assert.Equal(t, 1, sum.Counts.Resolved)
	assert.Len(t, h.fetcher.queries, 1, "the empty window is not scanned")
	assert.Len(t, h.lines("behaviorTracks.log"), 1)
	assert.Empty(t, h.pending())
}

func TestRun_NoRecord(t *testing.T) {
	h := newHarness(t)

	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, sum.NoRecord())
	assert.Equal(t, store.StatusEmpty, sum.Status)
}

func TestRun_NoWatermark(t *testing.T) {
	h := newHarness(t)
	h.window = fixedWindow{err: errors.New("output watermark unavailable")}

	_, err := h.pipeline().Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, IsNoWatermark(err))

	r, lerr := h.ledger.Run(context.Background(), "run-0001")
	require.NoError(t, lerr)
	assert.Equal(t, store.StatusFailed, r.Status)
	assert.Equal(t, string(ErrCodeNoWatermark), r.ErrorCode)
}

func TestRun_ExplicitWindowSkipsWatermark(t *testing.T) {
	h := newHarness(t)
	h.window = fixedWindow{err: errors.New("should not be asked")}
	w := model.Window{From: t0, To: t0.Add(time.Minute)}

	sum, err := h.pipeline().Run(context.Background(), Options{Window: &w})
	require.NoError(t, err)
	assert.Equal(t, w, sum.Window)
}

func TestRun_FetchAndRegistryFailures(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		h := newHarness(t)
		h.fetcher.err = errors.New("cluster down")
		_, err := h.pipeline().Run(context.Background(), Options{})
		assert.True(t, IsFetchFailed(err))
		assert.ErrorContains(t, err, "cluster down")
	})
	t.Run("registry", func(t *testing.T) {
		h := newHarness(t)
		h.registry.err = errors.New("access denied")
		_, err := h.pipeline().Run(context.Background(), Options{})
		assert.True(t, IsRegistryUnavailable(err))
	})
}

func TestRun_SinkFailureKeepsRetryStore(t *testing.T) {
	h := newHarness(t)
	h.fetcher.records = []model.AccessRecord{loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute)}

	_, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)

	h.fetcher.records = nil
	h.registry.users = []model.UserRecord{{UserID: 7, Account: "13800000000"}}
	h.sinks.Resolved = failingSink{}
	_, err = h.pipeline().Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, IsSinkFailed(err))

	assert.Len(t, h.pending(), 1, "carried record survives a failed run")
}

func TestRun_DiagnosticFailureAfterRetryStoreWritten(t *testing.T) {
	h := newHarness(t)
	// Plain lines, so a second emission would show as a second line.
	h.sinks.Resolved = sink.NewLineSink(filepath.Join(h.dir, "behaviorTracks.log"))
	h.fetcher.records = []model.AccessRecord{loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute)}

	_, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, h.pending(), 1)

	// The carried record resolves while the no-match log is broken.
	h.fetcher.records = nil
	h.registry.users = []model.UserRecord{{UserID: 7, Account: "13800000000"}}
	h.sinks.NoMatch = failingSink{}
	h.clock.Advance(time.Minute)

	_, err = h.pipeline().Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, IsSinkFailed(err))
	assert.ErrorContains(t, err, "no-match log")
	assert.Len(t, h.lines("behaviorTracks.log"), 1)
	assert.Empty(t, h.pending(), "a written record is no longer carried")

	h.sinks.NoMatch = sink.NewLineSink(filepath.Join(h.dir, "nomatch.log"))
	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Counts.Carried)
	assert.Len(t, h.lines("behaviorTracks.log"), 1, "resolved exactly once")
}

func TestRun_PropagatesLoginFromEarlierRun(t *testing.T) {
	h := newHarness(t)
	earlier := loginRecord("S1", "useraccount=13800000000&pwd=x", -10*time.Minute)
	h.output.resolved = []model.ResolvedRecord{{
		Candidate: model.IdentityCandidate{
			Record:     earlier,
			Rule:       "login",
			Field:      model.FieldUserAccount,
			Identifier: model.Present("13800000000"),
		},
		User: model.UserRecord{UserID: 7, Account: "13800000000"},
	}}
	h.fetcher.records = []model.AccessRecord{
		earlier,
		pageRecord("S1", "/app/orders", 5*time.Minute),
		pageRecord("S2", "/app/cart", 6*time.Minute),
	}

	sum, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Counts.Resolved)
	require.Len(t, sum.Sessions, 1)
	assert.Equal(t, "S1", sum.Sessions[0].SessionID)

	require.Len(t, h.output.queries, 1)
	assert.Equal(t, map[string][]string{model.FieldSessionID: {"S1", "S2"}}, h.output.queries[0].MatchAny)

	activity := h.lines("sessionTracks.log")
	require.Len(t, activity, 1, "only requests inside the window")
	assert.Contains(t, activity[0], `"url":"/app/orders"`)
	assert.Contains(t, activity[0], `"user_id":7`)
}

func TestRun_BackfillsLateResolvedLogin(t *testing.T) {
	h := newHarness(t)
	h.fetcher.records = []model.AccessRecord{
		loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute),
		pageRecord("S1", "/app/orders", 2*time.Minute),
		pageRecord("S1", "/app/profile", 90*time.Minute),
	}

	_, err := h.pipeline().Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, h.lines("sessionTracks.log"))

	next := model.Window{From: t0.Add(time.Hour + time.Second), To: t0.Add(2 * time.Hour)}
	h.registry.users = []model.UserRecord{{UserID: 7, Account: "13800000000"}}
	h.clock.Advance(time.Minute)

	sum, err := h.pipeline().Run(context.Background(), Options{Window: &next})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts.Carried)
	assert.Equal(t, 1, sum.Counts.Resolved)

	require.Len(t, h.fetcher.collected, 1)
	assert.True(t, h.fetcher.collected[0].Window.From.Equal(t0.Add(time.Minute)))
	assert.True(t, h.fetcher.collected[0].Window.To.Equal(t0.Add(time.Hour)))

	activity := h.lines("sessionTracks.log")
	require.Len(t, activity, 3, "the earlier login and page plus the page in this window")
	for _, line := range activity {
		assert.Contains(t, line, `"user_id":7`)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.registry.users = []model.UserRecord{{UserID: 7, Account: "13800000000"}}
	h.fetcher.records = []model.AccessRecord{
		loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute),
		loginRecord("S2", "useraccount=13900000000&pwd=x", time.Minute),
	}

	sum, err := h.pipeline().Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Counts.Resolved)
	assert.Equal(t, 1, sum.Counts.Unresolved)

	assert.Empty(t, h.lines("behaviorTracks.log"))
	assert.Empty(t, h.lines("nomatch.log"))
	_, err = os.Stat(filepath.Join(h.dir, "retry.bin"))
	assert.True(t, os.IsNotExist(err))

	runs, err := h.ledger.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.registry.users = []model.UserRecord{{UserID: 7, Account: "13800000000"}}
	h.fetcher.records = []model.AccessRecord{
		loginRecord("S1", "useraccount=13800000000&pwd=x", time.Minute),
		loginRecord("S1", "useraccount=13800000000&pwd=y", 2*time.Minute),
		pageRecord("S1", "/app/orders", 3*time.Minute),
	}
	w := model.Window{From: t0, To: t0.Add(time.Hour)}

	_, err := h.pipeline().Run(context.Background(), Options{Window: &w})
	require.NoError(t, err)
	resolved, activity := h.lines("behaviorTracks.log"), h.lines("sessionTracks.log")
	assert.Len(t, resolved, 1, "repeated logins on one session collapse")
	assert.Len(t, activity, 3)

	_, err = h.pipeline().Run(context.Background(), Options{Window: &w})
	require.NoError(t, err)
	assert.Equal(t, resolved, h.lines("behaviorTracks.log"))
	assert.Equal(t, activity, h.lines("sessionTracks.log"))
}

func TestRunError(t *testing.T) {
	cause := errors.New("boom")
	err := error(newRunError(ErrCodeSinkFailed, "run-1", "write output", cause))

	assert.Equal(t, "SINK_FAILED: write output (run=run-1): boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsSinkFailed(err))
	assert.False(t, IsRetryPersist(err))
	assert.Equal(t, RunErrorCode(""), Code(cause))
}

func TestUUIDv7Generator(t *testing.T) {
	a := UUIDv7Generator{}.Generate()
	b := UUIDv7Generator{}.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/usertrack/internal/model"
)

// ResolvedSource fetches previously written resolved records.
type ResolvedSource interface {
	CollectResolved(ctx context.Context, q model.Query) ([]model.ResolvedRecord, error)
}

// Lookup answers "what did this account do": its logins, the sessions they
// opened, anyone else seen on those sessions, and each session's activity.
type Lookup struct {
	Resolved        ResolvedSource
	ResolvedIndices []string
	Propagator      Propagator
}

// Report is the result of an account lookup. A report without sessions
// means the account had no resolved login in the window.
type Report struct {
	Account  string
	Window   model.Window
	Sessions []SessionReport
}

// Empty reports whether no login was found.
func (r *Report) Empty() bool { return len(r.Sessions) == 0 }

// SessionReport covers one session opened by the account.
type SessionReport struct {
	// Login is the account's first resolved request on the session.
	Login model.ResolvedRecord
	// Others are other accounts resolved on the same session, one per
	// account, in order of appearance.
	Others    []model.ResolvedRecord
	Narrative *Narrative
}

// Account builds a report for account over w.
func (l Lookup) Account(ctx context.Context, account string, w model.Window) (*Report, error) {
	acct, err := model.CanonicalAccount(account)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	report := &Report{Account: acct, Window: w}
	if w.Empty() {
		return report, nil
	}

	logins, err := l.Resolved.CollectResolved(ctx, model.Query{
		Indices: l.ResolvedIndices,
		Window:  w,
		Match:   map[string]string{model.FieldUserAccount: acct},
	})
	if err != nil {
		return nil, fmt.Errorf("lookup account %s: %w", acct, err)
	}
	// match_phrase is analysed; keep exact account matches only.
	logins = slices.DeleteFunc(logins, func(r model.ResolvedRecord) bool { return r.User.Account != acct })
	slices.SortStableFunc(logins, func(a, b model.ResolvedRecord) int { return a.Timestamp().Compare(b.Timestamp()) })

	seen := make(map[string]bool)
	for _, login := range logins {
		token := login.SessionID()
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true

		onSession, err := l.Resolved.CollectResolved(ctx, model.Query{
			Indices: l.ResolvedIndices,
			Window:  w,
			Match:   map[string]string{model.FieldSessionID: token},
		})
		if err != nil {
			return nil, fmt.Errorf("lookup session %s: %w", token, err)
		}
		onSession = slices.DeleteFunc(onSession, func(r model.ResolvedRecord) bool { return r.SessionID() != token })
		slices.SortStableFunc(onSession, func(a, b model.ResolvedRecord) int { return a.Timestamp().Compare(b.Timestamp()) })

		sr := SessionReport{Login: login}
		others := make(map[string]bool)
		for _, r := range onSession {
			if r.User.Account == acct || others[r.User.Account] {
				continue
			}
			others[r.User.Account] = true
			sr.Others = append(sr.Others, r)
		}

		identities := append([]model.ResolvedRecord{login}, onSession...)
		sr.Narrative, err = l.Propagator.Propagate(ctx, token, identities, w)
		if err != nil {
			return nil, err
		}
		report.Sessions = append(report.Sessions, sr)
	}
	return report, nil
}

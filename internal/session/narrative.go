package session

import (
	"slices"
	"time"

	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/sink"
)

// Entry is one request in a session narrative.
type Entry struct {
	Record model.AccessRecord

	// User is the attributed identity. It is only set when the narrative
	// is not anomalous.
	User       model.UserRecord
	Attributed bool
}

// Narrative is the time-ordered activity of one session token.
type Narrative struct {
	SessionID string
	Window    model.Window

	// Identities are the distinct users resolved on the token, in order of
	// their first resolved request.
	Identities []model.UserRecord

	Entries []Entry

	// Anomaly is set when more than one distinct user resolved on the token.
	Anomaly bool
}

// Span returns the times of the first and last entries.
func (n *Narrative) Span() (from, to time.Time, ok bool) {
	if len(n.Entries) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return n.Entries[0].Record.Timestamp, n.Entries[len(n.Entries)-1].Record.Timestamp, true
}

// UserIDs lists the ids of Identities.
func (n *Narrative) UserIDs() []int64 {
	ids := make([]int64, len(n.Identities))
	for i, u := range n.Identities {
		ids[i] = u.UserID
	}
	return ids
}

// build assembles a narrative from the token's records and the resolved
// records seen on it.
func build(token string, w model.Window, records []model.AccessRecord, identities []model.ResolvedRecord) *Narrative {
	n := &Narrative{SessionID: token, Window: w}

	ids := slices.Clone(identities)
	slices.SortStableFunc(ids, func(a, b model.ResolvedRecord) int {
		return a.Timestamp().Compare(b.Timestamp())
	})
	seen := make(map[int64]bool)
	for _, r := range ids {
		if r.SessionID() != token || seen[r.User.UserID] {
			continue
		}
		seen[r.User.UserID] = true
		n.Identities = append(n.Identities, r.User)
	}
	n.Anomaly = len(n.Identities) > 1

	for _, rec := range records {
		if rec.SessionID != token {
			continue
		}
		if !w.From.IsZero() && !w.Contains(rec.Timestamp) {
			continue
		}
		e := Entry{Record: rec}
		if len(n.Identities) == 1 {
			e.User = n.Identities[0]
			e.Attributed = true
		}
		n.Entries = append(n.Entries, e)
	}
	slices.SortStableFunc(n.Entries, func(a, b Entry) int {
		return a.Record.Timestamp.Compare(b.Record.Timestamp)
	})
	return n
}

// Activity renders the attributed entries for the activity log. Anomalous
// narratives render nothing.
func (n *Narrative) Activity() []sink.Item {
	if n.Anomaly {
		return nil
	}
	var out []sink.Item
	for _, e := range n.Entries {
		if !e.Attributed {
			continue
		}
		r := model.ResolvedRecord{
			Candidate: model.IdentityCandidate{
				Record:     e.Record,
				Rule:       "session",
				Field:      model.FieldUserAccount,
				Identifier: model.Present(e.User.Account),
			},
			User: e.User,
		}
		doc := r.Document()
		doc[model.FieldURL] = e.Record.URL
		if e.Record.HasStatus {
			doc[model.FieldStatus] = e.Record.Status
		}
		out = append(out, sink.Item{Key: model.ActivityKey(e.Record, e.User.UserID), Time: e.Record.Timestamp, Doc: doc})
	}
	return out
}

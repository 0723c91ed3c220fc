// Package resolve joins identity candidates against the registry snapshot.
//
// The join is exact and case-sensitive on the canonical account string.
// Before joining, candidates sharing (session token, identifier) collapse
// into one: repeated logins inside a window are one real-world event.
// A join that hits more than one registry user fails closed: the candidate
// stays unresolved with ReasonAmbiguous and is reported for manual review.
package resolve

import (
	"cmp"
	"slices"
	"time"

	"github.com/roach88/usertrack/internal/model"
)

// Result partitions one resolver pass.
type Result struct {
	// Resolved is sorted by request timestamp ascending.
	Resolved []model.ResolvedRecord

	// Unresolved holds no-match and ambiguous candidates, both of which go
	// back into the retry store.
	Unresolved []model.UnresolvedRecord

	// Ambiguous is the subset of Unresolved that needs manual review.
	Ambiguous []model.UnresolvedRecord

	// Unidentified are candidates with an absent identifier. They are
	// never joined and never retried.
	Unidentified []model.IdentityCandidate

	// Collapsed counts candidates dropped as duplicates of another.
	Collapsed int
}

// Resolve partitions fresh candidates plus carried-over retry records.
// now is stamped as CreatedAt on fresh candidates that stay unresolved;
// carried records keep their original CreatedAt so retention is measured
// from the first time they were stored.
func Resolve(fresh []model.IdentityCandidate, carried []model.UnresolvedRecord, idx *Index, now time.Time) Result {
	var res Result

	pending := make([]model.UnresolvedRecord, 0, len(fresh)+len(carried))
	pending = append(pending, carried...)
	for _, c := range fresh {
		if !c.Identifier.IsPresent() {
			res.Unidentified = append(res.Unidentified, c)
			continue
		}
		pending = append(pending, model.UnresolvedRecord{Candidate: c, CreatedAt: now})
	}

	var uniq []model.UnresolvedRecord
	uniq, res.Collapsed = collapse(pending)

	for _, u := range uniq {
		account, err := model.CanonicalAccount(u.Candidate.Identifier)
		if err != nil {
			res.Unidentified = append(res.Unidentified, u.Candidate)
			continue
		}
		users := idx.Lookup(account)
		switch len(users) {
		case 0:
			u.Reason = model.ReasonNoMatch
			u.Matches = nil
			res.Unresolved = append(res.Unresolved, u)
		case 1:
			res.Resolved = append(res.Resolved, model.ResolvedRecord{Candidate: u.Candidate, User: users[0]})
		default:
			u.Reason = model.ReasonAmbiguous
			u.Matches = make([]int64, len(users))
			for i, usr := range users {
				u.Matches[i] = usr.UserID
			}
			slices.Sort(u.Matches)
			res.Unresolved = append(res.Unresolved, u)
			res.Ambiguous = append(res.Ambiguous, u)
		}
	}

	slices.SortStableFunc(res.Resolved, compareResolved)
	slices.SortStableFunc(res.Unresolved, compareUnresolved)
	return res
}

type collapseKey struct {
	session    string
	identifier string
}

// collapse keeps one record per (session, identifier): the earliest
// observation, carrying the earliest CreatedAt of the group so a fresh
// duplicate never extends a carried record's retention.
func collapse(records []model.UnresolvedRecord) ([]model.UnresolvedRecord, int) {
	pos := make(map[collapseKey]int, len(records))
	var out []model.UnresolvedRecord
	dropped := 0

	for _, r := range records {
		id, _ := r.Candidate.Identifier.Value()
		key := collapseKey{session: r.Candidate.Record.SessionID, identifier: id}

		i, seen := pos[key]
		if !seen {
			pos[key] = len(out)
			out = append(out, r)
			continue
		}

		dropped++
		kept := out[i]
		createdAt := kept.CreatedAt
		if r.CreatedAt.Before(createdAt) {
			createdAt = r.CreatedAt
		}
		if r.Candidate.Record.Timestamp.Before(kept.Candidate.Record.Timestamp) {
			kept = r
		}
		kept.CreatedAt = createdAt
		out[i] = kept
	}
	return out, dropped
}

func compareResolved(a, b model.ResolvedRecord) int {
	return cmp.Or(
		a.Timestamp().Compare(b.Timestamp()),
		cmp.Compare(a.SessionID(), b.SessionID()),
		cmp.Compare(a.User.Account, b.User.Account),
	)
}

func compareUnresolved(a, b model.UnresolvedRecord) int {
	ida, _ := a.Candidate.Identifier.Value()
	idb, _ := b.Candidate.Identifier.Value()
	return cmp.Or(
		a.Candidate.Record.Timestamp.Compare(b.Candidate.Record.Timestamp),
		cmp.Compare(a.Candidate.Record.SessionID, b.Candidate.Record.SessionID),
		cmp.Compare(ida, idb),
	)
}

// Package sink writes pipeline output.
//
// Every sink accepts Items: a rendered document plus the key and time used
// to place it. Line sinks append one canonical JSON object per line, and a
// keyed line sink skips keys it has already written. The index sink
// upserts into monthly indices by key. Replaying a window duplicates
// nothing in either.
package sink

import (
	"context"
	"time"

	"github.com/roach88/usertrack/internal/model"
)

// Item is one output document.
type Item struct {
	// Key identifies the document across runs.
	Key string
	// Time places the document in a dated index.
	Time time.Time
	Doc  model.Document
}

// Sink receives batches of items.
type Sink interface {
	Write(ctx context.Context, items []Item) error
}

// Resolved renders resolved records.
func Resolved(recs []model.ResolvedRecord) []Item {
	out := make([]Item, len(recs))
	for i, r := range recs {
		out[i] = Item{Key: model.ResolvedKey(r), Time: r.Timestamp(), Doc: r.Document()}
	}
	return out
}

// Candidates renders identity candidates for the no-match log.
func Candidates(cands []model.IdentityCandidate) []Item {
	out := make([]Item, len(cands))
	for i, c := range cands {
		out[i] = Item{Key: model.CandidateKey(c), Time: c.Record.Timestamp, Doc: c.Document()}
	}
	return out
}

// Unresolved renders unresolved records with their reason.
func Unresolved(recs []model.UnresolvedRecord) []Item {
	out := make([]Item, len(recs))
	for i, u := range recs {
		out[i] = Item{Key: model.CandidateKey(u.Candidate), Time: u.Candidate.Record.Timestamp, Doc: u.Document()}
	}
	return out
}

// Multi fans a batch out to every sink in order. Every sink is attempted;
// the first error is returned.
type Multi []Sink

// Write implements Sink.
func (m Multi) Write(ctx context.Context, items []Item) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, items); err != nil && first == nil {
			first = err
		}
	}
	return first
}

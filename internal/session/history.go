package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/usertrack/internal/model"
)

// Defaults for History.
const (
	DefaultLookback  = 24 * time.Hour
	DefaultBatchSize = 200
)

// History finds identities that earlier runs resolved on a session, so a
// session whose login fell in a previous window is still attributed.
type History struct {
	Source  ResolvedSource
	Indices []string
	// Lookback is how far before the window a login may lie.
	Lookback time.Duration
	// BatchSize bounds the tokens per query.
	BatchSize int
}

// Identities returns the resolved records on tokens between
// w.From-Lookback and w.To, ordered by time.
func (h History) Identities(ctx context.Context, tokens []string, w model.Window) ([]model.ResolvedRecord, error) {
	if len(tokens) == 0 || w.Empty() {
		return nil, nil
	}
	lookback := h.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	size := h.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	tokens = slices.Clone(tokens)
	slices.Sort(tokens)
	tokens = slices.Compact(tokens)
	wanted := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		wanted[tok] = true
	}

	span := model.Window{From: w.From.Add(-lookback), To: w.To}
	var out []model.ResolvedRecord
	for chunk := range slices.Chunk(tokens, size) {
		recs, err := h.Source.CollectResolved(ctx, model.Query{
			Indices:  h.Indices,
			Window:   span,
			MatchAny: map[string][]string{model.FieldSessionID: chunk},
		})
		if err != nil {
			return nil, fmt.Errorf("session history: %w", err)
		}
		// match_phrase is analysed; keep exact tokens only.
		for _, r := range recs {
			if wanted[r.SessionID()] {
				out = append(out, r)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b model.ResolvedRecord) int { return a.Timestamp().Compare(b.Timestamp()) })
	return out, nil
}

// Unattributed lists the tokens of records that have no resolved record
// among resolved, sorted.
func Unattributed(records []model.AccessRecord, resolved []model.ResolvedRecord) []string {
	known := make(map[string]bool, len(resolved))
	for _, r := range resolved {
		known[r.SessionID()] = true
	}
	var out []string
	for _, rec := range records {
		if rec.SessionID == "" || known[rec.SessionID] {
			continue
		}
		known[rec.SessionID] = true
		out = append(out, rec.SessionID)
	}
	slices.Sort(out)
	return out
}

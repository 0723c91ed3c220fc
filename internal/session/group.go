package session

import (
	"slices"

	"github.com/roach88/usertrack/internal/model"
)

// Group propagates resolved identities over records already in hand. Only
// tokens with at least one resolved record produce a narrative; records
// without a token are ignored. Narratives are ordered by token.
func Group(w model.Window, records []model.AccessRecord, resolved []model.ResolvedRecord) []*Narrative {
	byToken := make(map[string][]model.ResolvedRecord)
	for _, r := range resolved {
		if r.SessionID() == "" {
			continue
		}
		byToken[r.SessionID()] = append(byToken[r.SessionID()], r)
	}
	if len(byToken) == 0 {
		return nil
	}

	recsByToken := make(map[string][]model.AccessRecord, len(byToken))
	for _, rec := range records {
		if _, ok := byToken[rec.SessionID]; ok {
			recsByToken[rec.SessionID] = append(recsByToken[rec.SessionID], rec)
		}
	}

	tokens := make([]string, 0, len(byToken))
	for tok := range byToken {
		tokens = append(tokens, tok)
	}
	slices.Sort(tokens)

	out := make([]*Narrative, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, build(tok, w, recsByToken[tok], byToken[tok]))
	}
	return out
}

// Anomalies filters narratives down to the anomalous ones.
func Anomalies(ns []*Narrative) []*Narrative {
	var out []*Narrative
	for _, n := range ns {
		if n.Anomaly {
			out = append(out, n)
		}
	}
	return out
}

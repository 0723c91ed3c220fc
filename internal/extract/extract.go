// Package extract applies a Pattern Rule Set to access records.
//
// Extraction never fails. A record whose source field is missing, or that
// no pattern matches, still yields a candidate with an absent identifier,
// so reports can tell "seen but unidentifiable" apart from "never seen".
package extract

import (
	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/rules"
)

// Extract applies rule to every record and returns one candidate per
// record, in the same order. The rule's filter is not consulted here;
// callers choose the records (see Batch).
func Extract(records []model.AccessRecord, rule rules.Rule) []model.IdentityCandidate {
	out := make([]model.IdentityCandidate, len(records))
	for i, rec := range records {
		out[i] = model.IdentityCandidate{
			Record:     rec,
			Rule:       rule.Name,
			Field:      rule.Field,
			Identifier: Identify(rec, rule),
		}
	}
	return out
}

// Identify runs the rule's patterns against one record. The first pattern
// whose first capture group is non-empty wins; later patterns are only
// fallbacks for other encodings of the same form field.
func Identify(rec model.AccessRecord, rule rules.Rule) model.Identifier {
	for _, source := range rule.Sources {
		text, ok := rec.Field(source.Field)
		if !ok {
			continue
		}
		for _, re := range source.Patterns {
			m := re.FindStringSubmatch(text)
			if len(m) > 1 && m[1] != "" {
				return model.Present(m[1])
			}
		}
	}
	return model.Absent()
}

// Batch applies every rule of set to the records it selects, in rule
// order. Records without a session token are skipped: they can never be
// correlated.
func Batch(records []model.AccessRecord, set *rules.RuleSet) []model.IdentityCandidate {
	var out []model.IdentityCandidate
	for _, rule := range set.Rules {
		var selected []model.AccessRecord
		for _, rec := range records {
			if rec.Correlatable() && rule.Selects(rec) {
				selected = append(selected, rec)
			}
		}
		out = append(out, Extract(selected, rule)...)
	}
	return out
}

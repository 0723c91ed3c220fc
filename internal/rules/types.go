package rules

import (
	"regexp"

	"github.com/roach88/usertrack/internal/model"
)

// RuleSet is an immutable, validated list of rules.
type RuleSet struct {
	Rules []Rule
}

// Rule extracts one identifier column from the records it selects.
type Rule struct {
	// Name identifies the rule in output and logs.
	Name string

	// Field is the output column (e.g. "user_account").
	Field string

	// Filter selects the records this rule applies to. Every filter must
	// hold. An empty filter selects every record.
	Filter []FieldFilter

	// Sources are tried in order; see package documentation.
	Sources []SourcePatterns
}

// FieldFilter holds when the record's field equals one of Values.
type FieldFilter struct {
	Field  string
	Values []string
}

// SourcePatterns is the ordered pattern list for one source field.
type SourcePatterns struct {
	Field    string
	Patterns []*regexp.Regexp
}

// Selects reports whether the rule applies to rec. A record missing a
// filtered field is not selected.
func (r Rule) Selects(rec model.AccessRecord) bool {
	for _, f := range r.Filter {
		v, ok := rec.Field(f.Field)
		if !ok || !contains(f.Values, v) {
			return false
		}
	}
	return true
}

// Rule returns the rule with the given name.
func (s *RuleSet) Rule(name string) (Rule, bool) {
	for _, r := range s.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

package rules

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/roach88/usertrack/internal/model"
)

// compile validates a raw document and builds the immutable RuleSet.
func compile(doc *rawDocument) (*RuleSet, error) {
	if doc == nil || len(doc.Rules) == 0 {
		return nil, &CompileError{Field: "rules", Message: "at least one rule is required"}
	}

	set := &RuleSet{Rules: make([]Rule, 0, len(doc.Rules))}
	seen := make(map[string]bool, len(doc.Rules))

	for i, raw := range doc.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		rule, err := compileRule(raw, path)
		if err != nil {
			return nil, err
		}
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("%s[%d]", rule.Field, i)
		}
		if seen[rule.Name] {
			return nil, &CompileError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate rule name %q", rule.Name),
				Pos:     raw.pos,
			}
		}
		seen[rule.Name] = true
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

func compileRule(raw rawRule, path string) (Rule, error) {
	rule := Rule{Name: raw.Name, Field: raw.Field}

	if raw.Field == "" {
		return rule, &CompileError{Field: path + ".field", Message: "field is required", Pos: raw.pos}
	}

	for _, name := range sortedKeys(raw.Filter) {
		values := raw.Filter[name]
		fieldPath := path + ".filter." + name
		if !model.IsKnownField(name) {
			return rule, &CompileError{Field: fieldPath, Message: fmt.Sprintf("unknown record field %q", name), Pos: raw.pos}
		}
		if len(values) == 0 {
			return rule, &CompileError{Field: fieldPath, Message: "at least one value is required", Pos: raw.pos}
		}
		rule.Filter = append(rule.Filter, FieldFilter{Field: name, Values: slices.Clone([]string(values))})
	}

	if len(raw.Pattern) == 0 {
		return rule, &CompileError{Field: path + ".pattern", Message: "at least one source field is required", Pos: raw.pos}
	}
	for _, source := range sortedKeys(raw.Pattern) {
		exprs := raw.Pattern[source]
		sourcePath := path + ".pattern." + source
		if !model.IsKnownField(source) {
			return rule, &CompileError{Field: sourcePath, Message: fmt.Sprintf("unknown record field %q", source), Pos: raw.pos}
		}
		if len(exprs) == 0 {
			return rule, &CompileError{Field: sourcePath, Message: "at least one pattern is required", Pos: raw.pos}
		}

		sp := SourcePatterns{Field: source}
		for j, expr := range exprs {
			patternPath := fmt.Sprintf("%s[%d]", sourcePath, j)
			re, err := regexp.Compile(expr)
			if err != nil {
				return rule, &CompileError{Field: patternPath, Message: err.Error(), Pos: raw.pos}
			}
			if re.NumSubexp() < 1 {
				return rule, &CompileError{Field: patternPath, Message: "pattern needs a capture group for the identifier", Pos: raw.pos}
			}
			sp.Patterns = append(sp.Patterns, re)
		}
		rule.Sources = append(rule.Sources, sp)
	}

	return rule, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

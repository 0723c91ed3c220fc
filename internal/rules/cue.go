package rules

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// decodeCUE evaluates a CUE rule file and walks its "rules" list.
// CUE gives us positions, so errors point at the offending line.
func decodeCUE(data []byte, name string) (*rawDocument, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err, "cue")
	}

	doc := &rawDocument{}
	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		// compile reports the empty rule set
		return doc, nil
	}

	iter, err := rulesVal.List()
	if err != nil {
		return nil, formatCUEError(err, "rules")
	}
	for i := 0; iter.Next(); i++ {
		rule, err := decodeCUERule(iter.Value(), fmt.Sprintf("rules[%d]", i))
		if err != nil {
			return nil, err
		}
		doc.Rules = append(doc.Rules, rule)
	}
	return doc, nil
}

func decodeCUERule(v cue.Value, path string) (rawRule, error) {
	rule := rawRule{pos: v.Pos()}

	fields, err := v.Fields()
	if err != nil {
		return rule, formatCUEError(err, path)
	}
	for fields.Next() {
		label := fields.Label()
		fv := fields.Value()
		fieldPath := path + "." + label

		switch label {
		case "name":
			if rule.Name, err = fv.String(); err != nil {
				return rule, formatCUEError(err, fieldPath)
			}
		case "field":
			if rule.Field, err = fv.String(); err != nil {
				return rule, formatCUEError(err, fieldPath)
			}
		case "filter":
			rule.Filter = make(map[string]stringList)
			if err := eachField(fv, fieldPath, func(name string, val cue.Value) error {
				values, err := cueStrings(val, fieldPath+"."+name)
				if err != nil {
					return err
				}
				rule.Filter[name] = values
				return nil
			}); err != nil {
				return rule, err
			}
		case "pattern":
			rule.Pattern = make(map[string][]string)
			if err := eachField(fv, fieldPath, func(name string, val cue.Value) error {
				if val.Kind() != cue.ListKind {
					return &CompileError{Field: fieldPath + "." + name, Message: "patterns must be a list", Pos: val.Pos()}
				}
				values, err := cueStrings(val, fieldPath+"."+name)
				if err != nil {
					return err
				}
				rule.Pattern[name] = values
				return nil
			}); err != nil {
				return rule, err
			}
		default:
			return rule, &CompileError{
				Field:   fieldPath,
				Message: fmt.Sprintf("unknown rule key %q", label),
				Pos:     fv.Pos(),
			}
		}
	}
	return rule, nil
}

func eachField(v cue.Value, path string, fn func(string, cue.Value) error) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err, path)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// cueStrings reads a string or a list of strings.
func cueStrings(v cue.Value, path string) ([]string, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err, path)
		}
		return []string{s}, nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err, path)
		}
		var out []string
		for i := 0; iter.Next(); i++ {
			s, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err, fmt.Sprintf("%s[%d]", path, i))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &CompileError{Field: path, Message: "expected string or list of strings", Pos: v.Pos()}
	}
}

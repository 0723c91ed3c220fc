package rules

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// rawDocument is the format-independent shape of a rule set file.
type rawDocument struct {
	Rules []rawRule `json:"rules" yaml:"rules"`
}

type rawRule struct {
	Name    string                `json:"name,omitempty" yaml:"name,omitempty"`
	Filter  map[string]stringList `json:"filter,omitempty" yaml:"filter,omitempty"`
	Field   string                `json:"field" yaml:"field"`
	Pattern map[string][]string   `json:"pattern" yaml:"pattern"`

	// pos is the rule's position in a CUE source.
	pos token.Pos
}

// stringList accepts either a single string or a list of strings, so a
// filter can be written as `url: "/user/login.do"` or as a list.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = stringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = many
	return nil
}

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*l = stringList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*l = many
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}

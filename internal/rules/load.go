package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format names a rule set encoding.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported rule file extension %q (want .cue, .yaml, .yml, .json or .jsonc)", filepath.Ext(path))
	}
}

// LoadFile reads and compiles a rule set file.
func LoadFile(path string) (*RuleSet, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return Parse(data, format, path)
}

// Parse compiles a rule set from data. name is used in CUE positions.
func Parse(data []byte, format Format, name string) (*RuleSet, error) {
	var (
		doc *rawDocument
		err error
	)
	switch format {
	case FormatCUE:
		doc, err = decodeCUE(data, name)
	case FormatYAML:
		doc, err = decodeYAML(data)
	case FormatJSON:
		doc, err = decodeJSON(data)
	default:
		return nil, fmt.Errorf("unsupported rule format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return compile(doc)
}

// decodeYAML rejects unknown keys so typos like "patern:" fail loudly.
func decodeYAML(data []byte) (*rawDocument, error) {
	var doc rawDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &CompileError{Field: "yaml", Message: err.Error()}
	}
	return &doc, nil
}

// decodeJSON accepts JSONC: comments and trailing commas are stripped first.
func decodeJSON(data []byte) (*rawDocument, error) {
	var doc rawDocument
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &CompileError{Field: "json", Message: err.Error()}
	}
	return &doc, nil
}

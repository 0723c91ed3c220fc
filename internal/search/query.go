package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/usertrack/internal/model"
)

// Range parameters understood by the cluster for "localtime".
const (
	rangeFormat   = "yyyy-MM-dd HH:mm:ss"
	rangeTimeZone = "+08:00"
)

// CompileQuery renders q as a search request body.
//
// The window bounds are inclusive and rendered in the fixed +08:00 zone.
// Match and MatchAny constraints are emitted in field-name order so
// identical queries produce identical bodies.
func CompileQuery(q model.Query) ([]byte, error) {
	if q.Window.From.IsZero() || q.Window.To.IsZero() {
		return nil, errors.New("compile query: window bounds are required")
	}

	filters := []any{
		map[string]any{"range": map[string]any{
			model.FieldTimestamp: map[string]any{
				"gte":       model.FormatQueryTime(q.Window.From),
				"lte":       model.FormatQueryTime(q.Window.To),
				"format":    rangeFormat,
				"time_zone": rangeTimeZone,
			},
		}},
	}
	for _, field := range q.Exists {
		if field == "" {
			return nil, errors.New("compile query: empty exists field")
		}
		filters = append(filters, map[string]any{"exists": map[string]any{"field": field}})
	}

	fields := make([]string, 0, len(q.Match))
	for field := range q.Match {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	for _, field := range fields {
		if field == "" {
			return nil, errors.New("compile query: empty match field")
		}
		filters = append(filters, map[string]any{"match_phrase": map[string]any{field: q.Match[field]}})
	}

	anyFields := make([]string, 0, len(q.MatchAny))
	for field := range q.MatchAny {
		anyFields = append(anyFields, field)
	}
	slices.Sort(anyFields)
	for _, field := range anyFields {
		values := q.MatchAny[field]
		if field == "" || len(values) == 0 {
			return nil, fmt.Errorf("compile query: match-any on %q needs a field and values", field)
		}
		should := make([]any, len(values))
		for i, v := range values {
			should[i] = map[string]any{"match_phrase": map[string]any{field: v}}
		}
		filters = append(filters, map[string]any{"bool": map[string]any{
			"should":               should,
			"minimum_should_match": 1,
		}})
	}

	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filters}},
		"sort":  []any{map[string]any{model.FieldTimestamp: "asc"}, "_doc"},
	}
	if len(q.Fields) > 0 {
		body["_source"] = q.Fields
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	return data, nil
}

// maxAggregation is the request body for the newest "localtime".
func maxAggregation() []byte {
	return []byte(`{"size":0,"aggs":{"newest":{"max":{"field":"` + model.FieldTimestamp + `"}}}}`)
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Document is one output object. Values must be string, bool, int, int64
// or []string; anything else is rejected by MarshalLine.
type Document map[string]any

// MarshalLine renders doc as one canonical JSON line (no trailing newline):
// keys sorted, strings NFC normalised and double-quoted, no HTML escaping.
// The same document always produces the same bytes, so log lines can be
// compared and de-duplicated textually.
func MarshalLine(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')

		vb, err := marshalValue(doc[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return marshalString(val)
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case int:
		return []byte(strconv.Itoa(val)), nil
	case bool:
		return []byte(strconv.FormatBool(val)), nil
	case []string:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			sb, err := marshalString(s)
			if err != nil {
				return nil, err
			}
			buf.Write(sb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case nil:
		return nil, fmt.Errorf("null values are not written")
	case float64, float32:
		return nil, fmt.Errorf("floats are not written: %v", val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// marshalString encodes s as a JSON string after NFC normalisation.
// HTML characters are left as-is.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

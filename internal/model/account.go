package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyAccount is returned when a join key normalises to nothing.
var ErrEmptyAccount = errors.New("empty account identifier")

// CanonicalAccount converts a join key from any source into the single
// string representation used for comparison. Integers render in base 10,
// strings and byte slices are trimmed of surrounding whitespace. Floats are
// rejected: a float account has already lost digits.
func CanonicalAccount(v any) (string, error) {
	var s string
	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case []byte:
		s = strings.TrimSpace(string(val))
	case int64:
		s = strconv.FormatInt(val, 10)
	case int:
		s = strconv.Itoa(val)
	case int32:
		s = strconv.FormatInt(int64(val), 10)
	case uint64:
		s = strconv.FormatUint(val, 10)
	case Identifier:
		id, ok := val.Value()
		if !ok {
			return "", ErrEmptyAccount
		}
		s = strings.TrimSpace(id)
	case nil:
		return "", ErrEmptyAccount
	case float64, float32:
		return "", fmt.Errorf("float account identifier %v", val)
	default:
		return "", fmt.Errorf("unsupported account identifier type %T", v)
	}
	if s == "" {
		return "", ErrEmptyAccount
	}
	return s, nil
}

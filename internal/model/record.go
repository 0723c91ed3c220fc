package model

import (
	"fmt"
	"strings"
	"time"
)

// Zone is the fixed +08:00 zone all log timestamps are interpreted in.
var Zone = time.FixedZone("CST", 8*60*60)

// TimeLayout is the output format for every timestamp the system writes.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// QueryTimeLayout is the wall-clock format used in index range queries.
const QueryTimeLayout = "2006-01-02 15:04:05"

// Index field names of an access record.
const (
	FieldTimestamp   = "localtime"
	FieldClientIP    = "clientip"
	FieldSessionID   = "session_id"
	FieldURL         = "url"
	FieldRequest     = "request"
	FieldRequestBody = "request_body"
	FieldAgent       = "agent"
	FieldStatus      = "status"
)

// AccessFields lists the index fields fetched for correlation.
var AccessFields = []string{
	FieldTimestamp,
	FieldClientIP,
	FieldSessionID,
	FieldURL,
	FieldRequest,
	FieldRequestBody,
	FieldAgent,
	FieldStatus,
}

// AccessRecord is one observed HTTP request.
type AccessRecord struct {
	Timestamp   time.Time
	ClientIP    string
	SessionID   string
	URL         string
	Request     string
	RequestBody string
	Agent       string

	// Status is only used by reports; HasStatus distinguishes a missing
	// status from an empty one.
	Status    string
	HasStatus bool

	// missing marks fields that were absent from the source document.
	missing map[string]bool
}

// WithMissing returns a copy of r that reports the given fields as absent
// from the source document regardless of their value.
func (r AccessRecord) WithMissing(fields ...string) AccessRecord {
	m := make(map[string]bool, len(r.missing)+len(fields))
	for k, v := range r.missing {
		m[k] = v
	}
	for _, f := range fields {
		m[f] = true
	}
	r.missing = m
	return r
}

// Missing lists the fields marked absent, in AccessFields order.
func (r AccessRecord) Missing() []string {
	var out []string
	for _, f := range AccessFields {
		if r.missing[f] {
			out = append(out, f)
		}
	}
	return out
}

// Field returns the value of the named index field. The boolean is false
// when the field is unknown or was missing from the source document.
func (r AccessRecord) Field(name string) (string, bool) {
	if r.missing[name] {
		return "", false
	}
	switch name {
	case FieldTimestamp:
		if r.Timestamp.IsZero() {
			return "", false
		}
		return FormatTime(r.Timestamp), true
	case FieldClientIP:
		return r.ClientIP, true
	case FieldSessionID:
		return r.SessionID, r.SessionID != ""
	case FieldURL:
		return r.URL, true
	case FieldRequest:
		return r.Request, true
	case FieldRequestBody:
		return r.RequestBody, true
	case FieldAgent:
		return r.Agent, true
	case FieldStatus:
		return r.Status, r.HasStatus
	default:
		return "", false
	}
}

// Correlatable reports whether the record can take part in identity
// correlation. Records without a session token are excluded.
func (r AccessRecord) Correlatable() bool {
	return r.SessionID != ""
}

// IsKnownField reports whether name is an access record field.
func IsKnownField(name string) bool {
	for _, f := range AccessFields {
		if f == name {
			return true
		}
	}
	return false
}

// FormatTime renders t in Zone using TimeLayout.
func FormatTime(t time.Time) string {
	return t.In(Zone).Format(TimeLayout)
}

// FormatQueryTime renders t as +08:00 wall time for range queries.
func FormatQueryTime(t time.Time) string {
	return t.In(Zone).Format(QueryTimeLayout)
}

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02:15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTime parses a log timestamp. Values without an explicit offset are
// taken as +08:00 wall time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		t, err := time.ParseInLocation(layout, s, Zone)
		if err == nil {
			return t.In(Zone), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime_Layouts(t *testing.T) {
	want := time.Date(2017, 9, 7, 10, 30, 5, 0, Zone)

	tests := []struct {
		name  string
		input string
	}{
		{"rfc3339 with offset", "2017-09-07T10:30:05+08:00"},
		{"rfc3339 utc", "2017-09-07T02:30:05Z"},
		{"space separated wall time", "2017-09-07 10:30:05"},
		{"colon separated wall time", "2017-09-07:10:30:05"},
		{"no offset", "2017-09-07T10:30:05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.input)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %v", got)
		})
	}
}

func TestParseTime_Invalid(t *testing.T) {
	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}

func TestFormatTime_AlwaysPlusEight(t *testing.T) {
	ts := time.Date(2017, 9, 7, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2017-09-07T10:00:00+08:00", FormatTime(ts))
	assert.Equal(t, "2017-09-07 10:00:00", FormatQueryTime(ts))
}

func TestAccessRecord_Field(t *testing.T) {
	rec := AccessRecord{
		SessionID:   "S1",
		RequestBody: "useraccount=1&pwd=x",
	}

	body, ok := rec.Field(FieldRequestBody)
	assert.True(t, ok)
	assert.Equal(t, "useraccount=1&pwd=x", body)

	_, ok = rec.Field("no_such_field")
	assert.False(t, ok)

	_, ok = rec.Field(FieldStatus)
	assert.False(t, ok, "status without HasStatus is absent")

	missing := rec.WithMissing(FieldRequestBody)
	_, ok = missing.Field(FieldRequestBody)
	assert.False(t, ok)

	// WithMissing must not alias the original
	_, ok = rec.Field(FieldRequestBody)
	assert.True(t, ok)
}

func TestAccessRecord_Correlatable(t *testing.T) {
	assert.True(t, AccessRecord{SessionID: "S1"}.Correlatable())
	assert.False(t, AccessRecord{}.Correlatable())
}

func TestWindow(t *testing.T) {
	from := time.Date(2017, 9, 7, 10, 0, 0, 0, Zone)
	w := Window{From: from, To: from.Add(time.Minute)}
	assert.False(t, w.Empty())
	assert.True(t, w.Contains(from))
	assert.True(t, w.Contains(from.Add(time.Minute)))
	assert.False(t, w.Contains(from.Add(time.Minute+time.Second)))

	degenerate := Window{From: from, To: from.Add(-time.Second)}
	assert.True(t, degenerate.Empty())
}

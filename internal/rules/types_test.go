package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/usertrack/internal/model"
)

func TestRule_Selects(t *testing.T) {
	rule := Rule{
		Filter: []FieldFilter{{Field: "url", Values: []string{"/user/login.do", "/dybuat/user/login.do"}}},
	}

	assert.True(t, rule.Selects(model.AccessRecord{URL: "/user/login.do"}))
	assert.True(t, rule.Selects(model.AccessRecord{URL: "/dybuat/user/login.do"}))
	assert.False(t, rule.Selects(model.AccessRecord{URL: "/user/logout.do"}))
	assert.False(t, rule.Selects(model.AccessRecord{URL: "/user/login.do"}.WithMissing("url")))
}

func TestRule_SelectsEmptyFilter(t *testing.T) {
	assert.True(t, Rule{}.Selects(model.AccessRecord{}))
}

func TestRule_SelectsAllFiltersMustHold(t *testing.T) {
	rule := Rule{
		Filter: []FieldFilter{
			{Field: "url", Values: []string{"/user/login.do"}},
			{Field: "agent", Values: []string{"okhttp/3.8.0"}},
		},
	}
	assert.True(t, rule.Selects(model.AccessRecord{URL: "/user/login.do", Agent: "okhttp/3.8.0"}))
	assert.False(t, rule.Selects(model.AccessRecord{URL: "/user/login.do", Agent: "Mozilla/5.0"}))
}

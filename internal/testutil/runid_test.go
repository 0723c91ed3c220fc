package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialRunIDs(t *testing.T) {
	var g SequentialRunIDs
	assert.Equal(t, "run-0001", g.Generate())
	assert.Equal(t, "run-0002", g.Generate())
}

func TestFixedRunID(t *testing.T) {
	assert.Equal(t, "abc", FixedRunID("abc").Generate())
	assert.Equal(t, "abc", FixedRunID("abc").Generate())
	assert.Equal(t, "test-run", FixedRunID("").Generate())
}

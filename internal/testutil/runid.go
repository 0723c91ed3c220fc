package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDs generates predictable run ids for tests:
// "run-0001", "run-0002", ...
//
// Implements pipeline.RunIDGenerator.
//
// Thread-safety: Safe for concurrent use.
type SequentialRunIDs struct {
	mu  sync.Mutex
	seq int
}

// Generate returns the next run id.
func (g *SequentialRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("run-%04d", g.seq)
}

// FixedRunID always returns the same run id. An empty value generates
// "test-run".
type FixedRunID string

// Generate returns the fixed run id.
func (id FixedRunID) Generate() string {
	if id == "" {
		return "test-run"
	}
	return string(id)
}

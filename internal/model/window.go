package model

import "time"

// Window is an inclusive time range [From, To].
type Window struct {
	From time.Time
	To   time.Time
}

// Empty reports whether the window contains no instant. A degenerate
// window is not an error: it simply selects nothing.
func (w Window) Empty() bool {
	return w.To.Before(w.From)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// String renders the window for logs.
func (w Window) String() string {
	return "[" + FormatTime(w.From) + ", " + FormatTime(w.To) + "]"
}

// Query is a bounded scan against the search index.
type Query struct {
	// Indices are index names or patterns (e.g. "nginx_jcjact_*").
	Indices []string

	// Fields limits the returned document fields. Empty means all.
	Fields []string

	// Window restricts "localtime" (inclusive, +08:00).
	Window Window

	// Exists lists fields that must be present.
	Exists []string

	// Match lists field=value constraints that must all hold.
	Match map[string]string

	// MatchAny lists fields where at least one of the values must match.
	MatchAny map[string][]string
}

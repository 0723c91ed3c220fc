// Package pipeline runs one correlation batch end to end.
//
// A run:
//
//  1. derives its window from the watermarks (or takes an explicit one)
//  2. scans the access log for the window
//  3. extracts identity candidates with the rule set
//  4. takes the retry store's carried records and a registry snapshot
//  5. resolves fresh and carried candidates together
//  6. optionally spreads resolved identities over their sessions
//  7. writes the resolved output
//  8. puts the still-unresolved records back into the retry store
//  9. queues ambiguous accounts and shared sessions for review
//  10. writes the no-match log and session activity
//
// An empty window skips steps 2 and 3 but still retries carried records.
//
// Resolved output is written before the retry store and diagnostics after
// it. If the resolved sink fails the retry file is left as it was, so
// carried records are not lost, and the output watermark has not moved,
// so the next run repeats the window. Once the retry file is rewritten a
// resolved record is in the output and nowhere else; a failing diagnostic
// sink cannot put it back. Output sinks are keyed, so repeating a window
// does not duplicate it.
//
// Runs must not overlap. The watermark and the retry file assume one
// active run at a time; scheduling enforces that.
package pipeline

// Package store provides SQLite-backed bookkeeping for usertrack runs.
//
// Two tables live here:
//   - runs: one row per pipeline run with its window, counts and outcome
//   - reviews: records that need a human decision (an account that maps to
//     several users, a session shared by several users)
//
// Neither table drives correlation: the watermark comes from the output
// sink and pending records live in the retry store. The store answers
// "what happened and what needs a look".
//
// # Idempotency
//
// Review items are keyed by (kind, session, account, observed_at). Re-running
// a window re-reports the same items and ON CONFLICT DO NOTHING keeps one row.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// All queries order deterministically; listings never depend on rowid order.
package store

// Package model defines the data carried through a correlation run.
//
// Records flow in one direction:
//
//	AccessRecord -> IdentityCandidate -> ResolvedRecord | UnresolvedRecord
//
// AccessRecords are fetched from the search index and never mutated.
// IdentityCandidates pair a record with the account identifier extracted
// from it; the identifier is tri-state (see Identifier) so that "no match"
// can never be confused with an empty or falsy value. Candidates either join
// exactly one UserRecord (ResolvedRecord) or wait in the retry store
// (UnresolvedRecord) until the registry catches up or they expire.
//
// # Time
//
// Every timestamp is interpreted in the fixed +08:00 zone (Zone). The index
// stores "localtime" either as RFC 3339 or as "2006-01-02 15:04:05" local
// wall time; ParseTime accepts both and FormatTime always renders RFC 3339
// with the +08:00 offset.
//
// # Join keys
//
// Account identifiers reach the resolver from two sources with different
// types (regex captures are strings, registry columns may be integers).
// CanonicalAccount is applied at both boundaries so comparison is always
// exact string equality on one representation.
package model

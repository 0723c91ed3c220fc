package model

import "time"

// IdentityCandidate pairs an access record with the identifier extracted
// from it by one rule.
type IdentityCandidate struct {
	Record AccessRecord

	// Rule names the extraction rule that produced this candidate.
	Rule string

	// Field is the output column the identifier is written to
	// (e.g. "user_account").
	Field string

	Identifier Identifier
}

// UnresolvedReason says why a candidate did not resolve.
type UnresolvedReason string

const (
	// ReasonNoMatch means no registry entry carries the identifier yet.
	ReasonNoMatch UnresolvedReason = "no_match"

	// ReasonAmbiguous means more than one registry entry carries the
	// identifier. These are held for manual review instead of picking one.
	ReasonAmbiguous UnresolvedReason = "ambiguous"
)

// UnresolvedRecord is a candidate waiting in the retry store.
type UnresolvedRecord struct {
	Candidate IdentityCandidate

	// CreatedAt is when the record first entered the retry store. The
	// retention window is measured from here, not from the observation
	// time of the request.
	CreatedAt time.Time

	Reason UnresolvedReason

	// Matches holds the user ids involved in an ambiguous join.
	Matches []int64
}

// ResolvedRecord is a candidate joined to exactly one registry user.
type ResolvedRecord struct {
	Candidate IdentityCandidate
	User      UserRecord
}

// Timestamp returns the observation time of the underlying request.
func (r ResolvedRecord) Timestamp() time.Time {
	return r.Candidate.Record.Timestamp
}

// SessionID returns the session token of the underlying request.
func (r ResolvedRecord) SessionID() string {
	return r.Candidate.Record.SessionID
}

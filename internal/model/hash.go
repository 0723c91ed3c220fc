package model

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Domain prefixes for record keys. The version suffix allows changing the
// key inputs without colliding with keys already written.
const (
	DomainCandidate = "usertrack/candidate/v1"
	DomainResolved  = "usertrack/resolved/v1"
	DomainActivity  = "usertrack/activity/v1"
)

// hashWithDomain computes BLAKE3(domain || 0x00 || parts joined by 0x00).
func hashWithDomain(domain string, parts ...string) string {
	h := blake3.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CandidateKey identifies a candidate by (identifier, session, timestamp).
// It is the retry store's dedup key.
func CandidateKey(c IdentityCandidate) string {
	id, _ := c.Identifier.Value()
	return hashWithDomain(DomainCandidate,
		c.Field,
		id,
		c.Record.SessionID,
		FormatTime(c.Record.Timestamp),
	)
}

// ResolvedKey is the document id of a resolved record in the output index.
// Re-emitting the same record overwrites instead of duplicating.
func ResolvedKey(r ResolvedRecord) string {
	id, _ := r.Candidate.Identifier.Value()
	return hashWithDomain(DomainResolved,
		r.Candidate.Field,
		id,
		r.Candidate.Record.SessionID,
		FormatTime(r.Candidate.Record.Timestamp),
		formatInt(r.User.UserID),
	)
}

// ActivityKey identifies one request attributed to userID by session
// propagation.
func ActivityKey(rec AccessRecord, userID int64) string {
	return hashWithDomain(DomainActivity,
		rec.SessionID,
		FormatTime(rec.Timestamp),
		rec.ClientIP,
		rec.URL,
		rec.Request,
		rec.RequestBody,
		formatInt(userID),
	)
}

package model

// Output document keys for user attributes.
const (
	FieldUserID       = "user_id"
	FieldUserAccount  = "user_account"
	FieldUserName     = "user_realname"
	FieldInviterID    = "invited_by_uid"
	FieldRegisteredAt = "apply_time"
	FieldRule         = "rule"
	FieldReason       = "reason"
)

// Document renders a resolved record for the terminal sinks. The account
// is always written under "user_account"; when the rule targets another
// column the identifier is written there as well.
func (r ResolvedRecord) Document() Document {
	rec := r.Candidate.Record
	doc := Document{
		FieldTimestamp:    FormatTime(rec.Timestamp),
		FieldClientIP:     rec.ClientIP,
		FieldSessionID:    rec.SessionID,
		FieldAgent:        rec.Agent,
		FieldUserID:       r.User.UserID,
		FieldUserAccount:  r.User.Account,
		FieldUserName:     r.User.Name,
		FieldInviterID:    r.User.InviterID,
		FieldRegisteredAt: r.User.RegisteredAt,
		FieldRule:         r.Candidate.Rule,
	}
	if r.Candidate.Field != "" && r.Candidate.Field != FieldUserAccount {
		if id, ok := r.Candidate.Identifier.Value(); ok {
			doc[r.Candidate.Field] = id
		}
	}
	return doc
}

// Document renders a candidate for the no-match diagnostic log. An absent
// identifier is omitted rather than written as an empty or false value.
func (c IdentityCandidate) Document() Document {
	rec := c.Record
	doc := Document{
		FieldTimestamp:   FormatTime(rec.Timestamp),
		FieldClientIP:    rec.ClientIP,
		FieldSessionID:   rec.SessionID,
		FieldURL:         rec.URL,
		FieldRequestBody: rec.RequestBody,
		FieldAgent:       rec.Agent,
		FieldRule:        c.Rule,
	}
	if id, ok := c.Identifier.Value(); ok && c.Field != "" {
		doc[c.Field] = id
	}
	return doc
}

// Document renders an unresolved record with its reason.
func (u UnresolvedRecord) Document() Document {
	doc := u.Candidate.Document()
	doc[FieldReason] = string(u.Reason)
	return doc
}

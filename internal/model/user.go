package model

// NoInviter is the reserved inviter id for users nobody invited.
const NoInviter int64 = 0

// UserRecord is one row of the registry snapshot.
type UserRecord struct {
	UserID int64

	// Account is the canonical join key (see CanonicalAccount).
	Account string

	Name      string
	InviterID int64

	// RegisteredAt is already normalised to TimeLayout, or empty when the
	// registry had no value.
	RegisteredAt string
}

// HasInviter reports whether the user was invited by someone.
func (u UserRecord) HasInviter() bool {
	return u.InviterID != NoInviter
}

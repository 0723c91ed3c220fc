package resolve

import (
	"slices"

	"github.com/roach88/usertrack/internal/model"
)

// Index is the registry snapshot keyed by canonical account.
type Index struct {
	byAccount map[string][]model.UserRecord
	size      int
}

// NewIndex builds the join index. Accounts are re-canonicalised so callers
// cannot smuggle in a differently formatted key; users whose account does
// not canonicalise are skipped (they can never be joined).
func NewIndex(users []model.UserRecord) *Index {
	idx := &Index{byAccount: make(map[string][]model.UserRecord, len(users))}
	for _, u := range users {
		account, err := model.CanonicalAccount(u.Account)
		if err != nil {
			continue
		}
		u.Account = account
		idx.byAccount[account] = append(idx.byAccount[account], u)
		idx.size++
	}
	return idx
}

// Lookup returns every user carrying account.
func (idx *Index) Lookup(account string) []model.UserRecord {
	return idx.byAccount[account]
}

// Len returns the number of indexed users.
func (idx *Index) Len() int {
	return idx.size
}

// Duplicates returns the accounts held by more than one user, sorted.
func (idx *Index) Duplicates() []string {
	var out []string
	for account, users := range idx.byAccount {
		if len(users) > 1 {
			out = append(out, account)
		}
	}
	slices.Sort(out)
	return out
}

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/usertrack/internal/model"
)

// AccessSource fetches raw access records.
type AccessSource interface {
	CollectAccess(ctx context.Context, q model.Query) ([]model.AccessRecord, error)
}

// Propagator fetches a session's activity from the input indices.
type Propagator struct {
	Source  AccessSource
	Indices []string
	// Fields limits fetched fields. Empty means model.AccessFields.
	Fields []string
}

// Propagate fetches every request bearing token inside w and attributes
// the identities resolved on it.
func (p Propagator) Propagate(ctx context.Context, token string, identities []model.ResolvedRecord, w model.Window) (*Narrative, error) {
	if token == "" {
		return nil, errors.New("propagate: empty session token")
	}
	fields := p.Fields
	if len(fields) == 0 {
		fields = model.AccessFields
	}

	records, err := p.Source.CollectAccess(ctx, model.Query{
		Indices: p.Indices,
		Fields:  fields,
		Window:  w,
		Match:   map[string]string{model.FieldSessionID: token},
	})
	if err != nil {
		return nil, fmt.Errorf("propagate session %s: %w", token, err)
	}
	return build(token, w, records, identities), nil
}

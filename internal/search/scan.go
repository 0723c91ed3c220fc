package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/roach88/usertrack/internal/model"
)

// Hit is one raw search result.
type Hit struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Source map[string]any `json:"_source"`
}

type page struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

// Scan streams every hit matching q. An empty window yields nothing without
// contacting the cluster. Stopping the iteration early clears the scroll.
func (c *Client) Scan(ctx context.Context, q model.Query) iter.Seq2[Hit, error] {
	return func(yield func(Hit, error) bool) {
		if q.Window.Empty() {
			return
		}
		body, err := CompileQuery(q)
		if err != nil {
			yield(Hit{}, err)
			return
		}

		res, err := c.es.Search(
			c.es.Search.WithContext(ctx),
			c.es.Search.WithIndex(q.Indices...),
			c.es.Search.WithBody(bytesReader(body)),
			c.es.Search.WithScroll(c.scroll),
			c.es.Search.WithSize(c.pageSize),
			c.es.Search.WithIgnoreUnavailable(true),
			c.es.Search.WithAllowNoIndices(true),
		)
		var p page
		if err := decodeResponse("search", res, err, &p); err != nil {
			yield(Hit{}, err)
			return
		}

		scrollID := p.ScrollID
		defer func() { c.clearScroll(ctx, scrollID) }()

		for len(p.Hits.Hits) > 0 {
			for _, h := range p.Hits.Hits {
				if !yield(h, nil) {
					return
				}
			}

			res, err := c.es.Scroll(
				c.es.Scroll.WithContext(ctx),
				c.es.Scroll.WithScrollID(scrollID),
				c.es.Scroll.WithScroll(c.scroll),
			)
			p = page{}
			if err := decodeResponse("scroll", res, err, &p); err != nil {
				yield(Hit{}, err)
				return
			}
			if p.ScrollID != "" {
				scrollID = p.ScrollID
			}
		}
	}
}

// clearScroll releases the scroll context. Failures are logged only: the
// context expires on its own.
func (c *Client) clearScroll(ctx context.Context, id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithContext(ctx),
		c.es.ClearScroll.WithScrollID(id),
	)
	if err := decodeResponse("clear scroll", res, err, nil); err != nil {
		c.logger.Debug("clear scroll failed", "error", err)
	}
}

// ScanAccess streams access records. Documents without a parsable
// "localtime" are skipped and logged.
func (c *Client) ScanAccess(ctx context.Context, q model.Query) iter.Seq2[model.AccessRecord, error] {
	return func(yield func(model.AccessRecord, error) bool) {
		for h, err := range c.Scan(ctx, q) {
			if err != nil {
				yield(model.AccessRecord{}, err)
				return
			}
			rec, err := accessFromSource(h.Source)
			if err != nil {
				c.logger.Warn("skipping access document", "index", h.Index, "id", h.ID, "error", err)
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// ScanResolved streams previously written resolved records.
func (c *Client) ScanResolved(ctx context.Context, q model.Query) iter.Seq2[model.ResolvedRecord, error] {
	return func(yield func(model.ResolvedRecord, error) bool) {
		for h, err := range c.Scan(ctx, q) {
			if err != nil {
				yield(model.ResolvedRecord{}, err)
				return
			}
			rec, err := resolvedFromSource(h.Source)
			if err != nil {
				c.logger.Warn("skipping resolved document", "index", h.Index, "id", h.ID, "error", err)
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// CollectAccess drains ScanAccess into a slice.
func (c *Client) CollectAccess(ctx context.Context, q model.Query) ([]model.AccessRecord, error) {
	var out []model.AccessRecord
	for rec, err := range c.ScanAccess(ctx, q) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CollectResolved drains ScanResolved into a slice.
func (c *Client) CollectResolved(ctx context.Context, q model.Query) ([]model.ResolvedRecord, error) {
	var out []model.ResolvedRecord
	for rec, err := range c.ScanResolved(ctx, q) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func sourceString(src map[string]any, field string) (string, bool) {
	v, ok := src[field]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	default:
		return fmt.Sprint(x), true
	}
}

func accessFromSource(src map[string]any) (model.AccessRecord, error) {
	raw, ok := sourceString(src, model.FieldTimestamp)
	if !ok {
		return model.AccessRecord{}, fmt.Errorf("missing %s", model.FieldTimestamp)
	}
	ts, err := model.ParseTime(raw)
	if err != nil {
		return model.AccessRecord{}, err
	}

	rec := model.AccessRecord{Timestamp: ts}
	var missing []string
	set := func(field string, dst *string) bool {
		v, ok := sourceString(src, field)
		if !ok {
			missing = append(missing, field)
			return false
		}
		*dst = v
		return true
	}
	set(model.FieldClientIP, &rec.ClientIP)
	set(model.FieldSessionID, &rec.SessionID)
	set(model.FieldURL, &rec.URL)
	set(model.FieldRequest, &rec.Request)
	set(model.FieldRequestBody, &rec.RequestBody)
	set(model.FieldAgent, &rec.Agent)
	rec.HasStatus = set(model.FieldStatus, &rec.Status)

	if len(missing) > 0 {
		rec = rec.WithMissing(missing...)
	}
	return rec, nil
}

func resolvedFromSource(src map[string]any) (model.ResolvedRecord, error) {
	rec, err := accessFromSource(src)
	if err != nil {
		return model.ResolvedRecord{}, err
	}

	account, _ := sourceString(src, model.FieldUserAccount)
	if account == "" {
		return model.ResolvedRecord{}, fmt.Errorf("missing %s", model.FieldUserAccount)
	}
	user := model.UserRecord{Account: account, InviterID: model.NoInviter}
	if user.UserID, err = sourceInt(src, model.FieldUserID); err != nil {
		return model.ResolvedRecord{}, err
	}
	if _, ok := src[model.FieldInviterID]; ok {
		if user.InviterID, err = sourceInt(src, model.FieldInviterID); err != nil {
			return model.ResolvedRecord{}, err
		}
	}
	user.Name, _ = sourceString(src, model.FieldUserName)
	user.RegisteredAt, _ = sourceString(src, model.FieldRegisteredAt)
	rule, _ := sourceString(src, model.FieldRule)

	return model.ResolvedRecord{
		Candidate: model.IdentityCandidate{
			Record:     rec,
			Rule:       rule,
			Field:      model.FieldUserAccount,
			Identifier: model.Present(account),
		},
		User: user,
	}, nil
}

func sourceInt(src map[string]any, field string) (int64, error) {
	raw, ok := sourceString(src, field)
	if !ok {
		return 0, fmt.Errorf("missing %s", field)
	}
	n, err := json.Number(raw).Int64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}

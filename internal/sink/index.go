package sink

import (
	"context"
	"fmt"

	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/search"
)

// Bulker is the part of search.Client the index sink needs.
type Bulker interface {
	BulkUpsert(ctx context.Context, docs []search.Document) (int, error)
}

// IndexSink upserts items into monthly indices named Prefix + "YYYYMM",
// using each item's key as the document id.
type IndexSink struct {
	Client Bulker
	Prefix string
}

// IndexName returns the index an item with time t is written to.
func (s IndexSink) IndexName(item Item) string {
	return s.Prefix + item.Time.In(model.Zone).Format("200601")
}

// Write implements Sink.
func (s IndexSink) Write(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	docs := make([]search.Document, len(items))
	for i, it := range items {
		if it.Key == "" {
			return fmt.Errorf("index sink: item %d has no key", i)
		}
		docs[i] = search.Document{Index: s.IndexName(it), ID: it.Key, Body: it.Doc}
	}
	if _, err := s.Client.BulkUpsert(ctx, docs); err != nil {
		return fmt.Errorf("index sink: %w", err)
	}
	return nil
}

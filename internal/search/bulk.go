package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/usertrack/internal/model"
)

// DefaultBulkSize is the number of documents per bulk request.
const DefaultBulkSize = 500

// Document is one document to index under an explicit id.
type Document struct {
	Index string
	ID    string
	Body  model.Document
}

// BulkError reports documents the cluster rejected.
type BulkError struct {
	Failed int
	First  string
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("elasticsearch bulk: %d documents rejected (first: %s)", e.Failed, e.First)
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkUpsert indexes docs with explicit ids, DefaultBulkSize per request.
// Existing documents with the same id are replaced. It returns the number
// of documents accepted.
func (c *Client) BulkUpsert(ctx context.Context, docs []Document) (int, error) {
	written := 0
	for start := 0; start < len(docs); start += DefaultBulkSize {
		end := min(start+DefaultBulkSize, len(docs))
		n, err := c.bulk(ctx, docs[start:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *Client) bulk(ctx context.Context, docs []Document) (int, error) {
	var buf bytes.Buffer
	for _, d := range docs {
		if d.Index == "" || d.ID == "" {
			return 0, fmt.Errorf("elasticsearch bulk: document without index or id")
		}
		action, err := json.Marshal(map[string]any{
			"index": map[string]string{"_index": d.Index, "_id": d.ID},
		})
		if err != nil {
			return 0, err
		}
		line, err := model.MarshalLine(d.Body)
		if err != nil {
			return 0, fmt.Errorf("elasticsearch bulk: %w", err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(line)
		buf.WriteByte('\n')
	}

	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()), c.es.Bulk.WithContext(ctx))
	var body bulkResponse
	if err := decodeResponse("bulk", res, err, &body); err != nil {
		return 0, err
	}
	if !body.Errors {
		return len(docs), nil
	}

	berr := &BulkError{}
	for _, item := range body.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			if berr.Failed == 0 {
				berr.First = result.ID + ": " + result.Error.Type + ": " + result.Error.Reason
			}
			berr.Failed++
		}
	}
	if berr.Failed == 0 {
		return len(docs), nil
	}
	return len(docs) - berr.Failed, berr
}

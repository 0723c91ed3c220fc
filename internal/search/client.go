package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Scan defaults.
const (
	DefaultPageSize = 1000
	DefaultScroll   = time.Minute
)

// Config configures a Client.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string

	// PageSize is the number of hits per scroll page.
	PageSize int
	// Scroll is how long the cluster keeps a scroll context between pages.
	Scroll time.Duration

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Client talks to one Elasticsearch cluster.
type Client struct {
	es       *elasticsearch.Client
	pageSize int
	scroll   time.Duration
	logger   *slog.Logger
}

// New creates a Client. No request is made until the first call.
func New(cfg Config) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch: at least one address is required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: %w", err)
	}

	c := &Client{
		es:       es,
		pageSize: cfg.PageSize,
		scroll:   cfg.Scroll,
		logger:   cfg.Logger,
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.scroll <= 0 {
		c.scroll = DefaultScroll
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// ResponseError is a non-2xx answer from the cluster.
type ResponseError struct {
	Op     string
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("elasticsearch %s: status %d: %s: %s", e.Op, e.Status, e.Type, e.Reason)
	}
	return fmt.Sprintf("elasticsearch %s: status %d", e.Op, e.Status)
}

// decodeResponse closes res and decodes its body into out. A transport
// error or an error status is returned as an error.
func decodeResponse(op string, res *esapi.Response, err error, out any) error {
	if err != nil {
		return fmt.Errorf("elasticsearch %s: %w", op, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		rerr := &ResponseError{Op: op, Status: res.StatusCode}
		var body struct {
			Error struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		}
		if json.NewDecoder(res.Body).Decode(&body) == nil {
			rerr.Type = body.Error.Type
			rerr.Reason = body.Error.Reason
		}
		return rerr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("elasticsearch %s: decode response: %w", op, err)
	}
	return nil
}

// MaxTimestamp returns the newest "localtime" across indices. The boolean
// is false when no document carries the field.
func (c *Client) MaxTimestamp(ctx context.Context, indices ...string) (time.Time, bool, error) {
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(indices...),
		c.es.Search.WithBody(bytesReader(maxAggregation())),
		c.es.Search.WithIgnoreUnavailable(true),
		c.es.Search.WithAllowNoIndices(true),
	)
	var body struct {
		Aggregations struct {
			Newest struct {
				Value *json.Number `json:"value"`
			} `json:"newest"`
		} `json:"aggregations"`
	}
	if err := decodeResponse("max timestamp", res, err, &body); err != nil {
		return time.Time{}, false, err
	}

	v := body.Aggregations.Newest.Value
	if v == nil {
		return time.Time{}, false, nil
	}
	ms, err := v.Float64()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("elasticsearch max timestamp: %w", err)
	}
	return time.UnixMilli(int64(ms)), true, nil
}

// IndexWatermark is the newest record of an index pattern. It satisfies
// watermark.Source.
type IndexWatermark struct {
	Client  *Client
	Indices []string
}

// MaxTimestamp delegates to Client.MaxTimestamp.
func (w IndexWatermark) MaxTimestamp(ctx context.Context) (time.Time, bool, error) {
	return w.Client.MaxTimestamp(ctx, w.Indices...)
}

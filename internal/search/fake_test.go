package search

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCluster serves canned pages for search/scroll and records bulk and
// clear-scroll calls.
type fakeCluster struct {
	mu sync.Mutex

	pages   [][]map[string]any
	max     any
	status  int
	errBody string

	searchBodies []map[string]any
	searchPaths  []string
	scrolls      int
	cleared      []string
	bulkLines    []string
	bulkErrors   map[string]string
}

func newFakeCluster(t *testing.T, f *fakeCluster) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	c, err := New(Config{Addresses: []string{srv.URL}, PageSize: 2})
	require.NoError(t, err)
	return c
}

func (f *fakeCluster) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.errBody)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/_search/scroll"):
		id := strings.TrimPrefix(strings.TrimPrefix(path, "/_search/scroll"), "/")
		if id == "" {
			id = r.URL.Query().Get("scroll_id")
		}
		if id == "" {
			var body struct {
				ScrollID any `json:"scroll_id"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			switch v := body.ScrollID.(type) {
			case string:
				id = v
			case []any:
				if len(v) > 0 {
					id, _ = v[0].(string)
				}
			}
		}
		f.cleared = append(f.cleared, id)
		_, _ = io.WriteString(w, `{"succeeded":true,"num_freed":1}`)

	case strings.HasPrefix(path, "/_search/scroll"):
		f.scrolls++
		f.writePage(w, f.scrolls)

	case strings.HasSuffix(path, "/_search"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.searchBodies = append(f.searchBodies, body)
		f.searchPaths = append(f.searchPaths, path)
		if _, ok := body["aggs"]; ok {
			resp := map[string]any{"aggregations": map[string]any{"newest": map[string]any{"value": f.max}}}
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		f.writePage(w, 0)

	case strings.HasSuffix(path, "/_bulk"):
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1<<20), 1<<20)
		var items []any
		hasErrors := false
		for sc.Scan() {
			line := sc.Text()
			f.bulkLines = append(f.bulkLines, line)
			var action map[string]map[string]string
			if json.Unmarshal([]byte(line), &action) != nil {
				continue
			}
			meta, ok := action["index"]
			if !ok {
				continue
			}
			result := map[string]any{"_id": meta["_id"], "status": 201}
			if reason, bad := f.bulkErrors[meta["_id"]]; bad {
				hasErrors = true
				result["status"] = 400
				result["error"] = map[string]any{"type": "mapper_parsing_exception", "reason": reason}
			}
			items = append(items, map[string]any{"index": result})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": hasErrors, "items": items})

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"not_found","reason":"`+path+`"},"status":404}`)
	}
}

func (f *fakeCluster) writePage(w http.ResponseWriter, n int) {
	var hits []any
	if n < len(f.pages) {
		for i, src := range f.pages[n] {
			hits = append(hits, map[string]any{"_index": "nginx_jcjact_2024.03.01", "_id": string(rune('a'+n)) + string(rune('0'+i)), "_source": src})
		}
	}
	if hits == nil {
		hits = []any{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"_scroll_id": "scroll-1",
		"hits":       map[string]any{"hits": hits},
	})
}

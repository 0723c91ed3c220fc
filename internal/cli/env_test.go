package cli

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"text/template"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/roach88/usertrack/internal/model"
)

const rulesYAML = `
rules:
  - name: login
    filter: {url: ["/dybuat/user/login.do", "/user/login.do"]}
    field: user_account
    pattern:
      request_body:
        - 'useraccount=(.*?)&'
        - 'name="useraccount"\s+(\d{11})\s+--'
`

const configTemplate = `
elasticsearch:
  addresses: ["{{.URL}}"]
registry:
  driver: sqlite3
  dsn: {{.Dir}}/registry.db
indices:
  input: ["nginx_jcjact_*"]
  freshness: ["nginx_jcj_*"]
  output: ["userbehavior_*"]
  output_prefix: userbehavior_
rules: {{.Dir}}/rules.yaml
retry:
  path: {{.Dir}}/unresolved.bin
  retention: 6h
watermark:
  source: index
  safety_margin: 60s
sinks:
  resolved_log: {{.Dir}}/behaviorTracks.log
  nomatch_log: {{.Dir}}/nomatch.log
  activity_log: {{.Dir}}/sessionTracks.log
  index: true
store:
  path: {{.Dir}}/usertrack.db
propagate: true
`

var now = time.Date(2024, 3, 1, 10, 30, 0, 0, model.Zone)

// esStub is an in-memory cluster: each index pattern maps to its documents
// and newest localtime. Queries are not evaluated; callers filter in memory.
type esStub struct {
	mu sync.Mutex

	docs map[string][]map[string]any
	max  map[string]any

	searches []string
	bulk     []string
}

func (s *esStub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/_search/scroll"):
		if r.Method == http.MethodDelete {
			_, _ = io.WriteString(w, `{"succeeded":true,"num_freed":1}`)
			return
		}
		_, _ = io.WriteString(w, `{"_scroll_id":"scroll-1","hits":{"hits":[]}}`)

	case strings.HasSuffix(path, "/_search"):
		index := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/_search")
		s.searches = append(s.searches, index)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["aggs"]; ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"aggregations": map[string]any{"newest": map[string]any{"value": s.max[index]}},
			})
			return
		}
		hits := []any{}
		for i, src := range s.docs[index] {
			hits = append(hits, map[string]any{"_index": index, "_id": string(rune('a' + i)), "_source": src})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"_scroll_id": "scroll-1", "hits": map[string]any{"hits": hits}})

	case strings.HasSuffix(path, "/_bulk"):
		var items []any
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1<<20), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			s.bulk = append(s.bulk, line)
			var action map[string]map[string]any
			if json.Unmarshal([]byte(line), &action) == nil {
				if meta, ok := action["index"]; ok {
					items = append(items, map[string]any{"index": map[string]any{"_id": meta["_id"], "status": 201}})
				}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": items})

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"not_found","reason":"`+path+`"},"status":404}`)
	}
}

func millis(s string) any {
	t, err := model.ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t.UnixMilli()
}

func accessDoc(ts, session, url, body string) map[string]any {
	return map[string]any{
		"localtime":    ts,
		"clientip":     "10.1.2.3",
		"session_id":   session,
		"url":          url,
		"request":      "POST " + url + " HTTP/1.1",
		"request_body": body,
		"agent":        "Mozilla/5.0",
		"status":       "200",
	}
}

// newStub returns a cluster holding one known login, one follow-up
// request on the same session and one login the registry does not know.
func newStub() *esStub {
	return &esStub{
		docs: map[string][]map[string]any{
			"nginx_jcjact_*": {
				accessDoc("2024-03-01 10:00:05", "S1", "/user/login.do", "useraccount=13800000001&pwd=x"),
				accessDoc("2024-03-01 10:01:00", "S1", "/home", ""),
				accessDoc("2024-03-01 10:02:00", "S2", "/user/login.do", "useraccount=13900000009&pwd=y"),
			},
		},
		max: map[string]any{
			"userbehavior_*": millis("2024-03-01 09:59:59"),
			"nginx_jcj_*":    millis("2024-03-01 10:10:00"),
		},
	}
}

type testEnv struct {
	t      *testing.T
	dir    string
	config string
	stub   *esStub
}

func newTestEnv(t *testing.T, stub *esStub) *testEnv {
	t.Helper()
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(srv.Close)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(rulesYAML), 0o644))

	db, err := sql.Open("sqlite3", filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE rb_user (
		user_id INTEGER PRIMARY KEY,
		user_account TEXT,
		user_realname TEXT,
		invited_by_uid INTEGER,
		apply_time TEXT
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO rb_user VALUES (42, '13800000001', 'Li Lei', 7, '2023-05-06 07:08:09')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var cfg bytes.Buffer
	tmpl := template.Must(template.New("config").Parse(configTemplate))
	require.NoError(t, tmpl.Execute(&cfg, map[string]string{"URL": srv.URL, "Dir": dir}))
	config := filepath.Join(dir, "usertrack.yaml")
	require.NoError(t, os.WriteFile(config, cfg.Bytes(), 0o644))

	return &testEnv{t: t, dir: dir, config: config, stub: stub}
}

// execute runs the root command with --config set and returns stdout and
// stderr.
func (e *testEnv) execute(args ...string) (string, string, error) {
	e.t.Helper()
	opts := &RootOptions{Now: func() time.Time { return now }}
	cmd := newRootCommand(opts)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *testEnv) read(name string) string {
	e.t.Helper()
	data, err := os.ReadFile(e.path(name))
	require.NoError(e.t, err)
	return string(data)
}

func registerUser(t *testing.T, env *testEnv, id int, account, name string) {
	t.Helper()
	db, err := sql.Open("sqlite3", env.path("registry.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`INSERT INTO rb_user VALUES (?, ?, ?, 0, NULL)`, id, account, name)
	require.NoError(t, err)
}

package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/usertrack/internal/model"
)

// KeyField holds an item's key on the lines of a keyed LineSink.
const KeyField = "track_id"

// LineSink appends canonical JSON lines to a file.
type LineSink struct {
	path  string
	keyed bool
	mu    sync.Mutex
}

// NewLineSink returns a sink appending to path. The file and its directory
// are created on first write.
func NewLineSink(path string) *LineSink {
	return &LineSink{path: path}
}

// NewKeyedLineSink returns a LineSink that writes each item's key under
// KeyField and skips items whose key is already in the file, so a window
// can be processed again without duplicating lines.
func NewKeyedLineSink(path string) *LineSink {
	return &LineSink{path: path, keyed: true}
}

// Path returns the file location.
func (s *LineSink) Path() string { return s.path }

// Write appends one line per item. The batch is rendered first, so a
// document that cannot be encoded writes nothing. A keyed sink only drops
// keys found in the file; repeats inside one batch are distinct requests.
func (s *LineSink) Write(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var written map[string]bool
	if s.keyed {
		var err error
		if written, err = s.keys(ctx); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	for _, it := range items {
		doc := it.Doc
		if s.keyed {
			if written[it.Key] {
				continue
			}
			doc = maps.Clone(doc)
			doc[KeyField] = it.Key
		}
		line, err := model.MarshalLine(doc)
		if err != nil {
			return fmt.Errorf("line sink %s: %w", s.path, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if buf.Len() == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("line sink %s: %w", s.path, err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("line sink %s: %w", s.path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("line sink %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("line sink %s: %w", s.path, err)
	}
	return nil
}

// keys collects the keys already written. Callers hold s.mu.
func (s *LineSink) keys(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	err := s.scan(ctx, func(line []byte) {
		var rec map[string]any
		if json.Unmarshal(line, &rec) != nil {
			return
		}
		if k, ok := rec[KeyField].(string); ok && k != "" {
			out[k] = true
		}
	})
	return out, err
}

// scan calls fn with every line of the file. A missing file has no lines.
// Callers hold s.mu.
func (s *LineSink) scan(ctx context.Context, fn func(line []byte)) error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("line sink %s: %w", s.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(sc.Bytes())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("line sink %s: %w", s.path, err)
	}
	return nil
}

// MaxTimestamp returns the newest "localtime" written to the file. The
// boolean is false when the file is missing or holds no timestamped line.
// Lines that do not parse are ignored.
func (s *LineSink) MaxTimestamp(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		newest time.Time
		found  bool
	)
	err := s.scan(ctx, func(b []byte) {
		var line struct {
			Localtime string `json:"localtime"`
		}
		if json.Unmarshal(b, &line) != nil || line.Localtime == "" {
			return
		}
		ts, err := model.ParseTime(line.Localtime)
		if err != nil {
			return
		}
		if !found || ts.After(newest) {
			newest, found = ts, true
		}
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return newest, found, nil
}

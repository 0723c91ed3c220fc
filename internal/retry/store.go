package retry

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/roach88/usertrack/internal/model"
)

// DefaultRetention is how long an unresolved record is retried.
const DefaultRetention = 6 * time.Hour

// Options configures a Store.
type Options struct {
	// Retention bounds how long a record stays in the store, measured from
	// its CreatedAt. Zero means DefaultRetention.
	Retention time.Duration

	// Compression applied to the snapshot payload on write. Reads honour
	// whatever tag the file carries.
	Compression CompressionTag

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// Store holds unresolved records for a single run and persists them to path.
// A Store is not safe for concurrent use; runs are sequential.
type Store struct {
	path string
	opts Options

	held    []model.UnresolvedRecord
	expired int
}

// Open loads the snapshot at path. A missing file is an empty store; a file
// that exists but cannot be decoded is an error wrapping ErrCorrupt.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("retry store path is empty")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{path: path, opts: opts}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read retry store %s: %w", path, err)
	}

	held, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("read retry store %s: %w", path, err)
	}
	s.held = held
	return s, nil
}

// Path returns the snapshot location.
func (s *Store) Path() string { return s.path }

// Retention returns the effective retention window.
func (s *Store) Retention() time.Duration { return s.opts.Retention }

// TakeAll returns every held record still inside the retention window and
// empties the held set. Expired records are discarded.
func (s *Store) TakeAll() ([]model.UnresolvedRecord, error) {
	live := s.live(s.held)
	s.expired += len(s.held) - len(live)
	s.held = nil
	return live, nil
}

// Pending lists held records inside the retention window without consuming
// them.
func (s *Store) Pending() []model.UnresolvedRecord {
	return s.live(s.held)
}

// Expired reports how many records have aged out of the store since Open.
func (s *Store) Expired() int { return s.expired }

// Put merges records into the held set and atomically rewrites the
// snapshot. Duplicates by (field, identifier, session, timestamp) keep the
// earliest CreatedAt; expired records are dropped before writing. Records
// with an absent identifier are ignored since they can never resolve.
func (s *Store) Put(records []model.UnresolvedRecord) error {
	merged := make(map[string]model.UnresolvedRecord, len(s.held)+len(records))
	for _, r := range slices.Concat(s.held, records) {
		if !r.Candidate.Identifier.IsPresent() {
			continue
		}
		key := model.CandidateKey(r.Candidate)
		if prev, ok := merged[key]; ok && !r.CreatedAt.Before(prev.CreatedAt) {
			continue
		}
		merged[key] = r
	}

	all := make([]model.UnresolvedRecord, 0, len(merged))
	for _, r := range merged {
		all = append(all, r)
	}
	live := s.live(all)
	s.expired += len(all) - len(live)
	slices.SortFunc(live, compareEntries)

	data, err := encode(live, s.opts.Now(), s.opts.Compression)
	if err != nil {
		return fmt.Errorf("write retry store %s: %w", s.path, err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write retry store %s: %w", s.path, err)
	}

	s.held = live
	return nil
}

func (s *Store) live(records []model.UnresolvedRecord) []model.UnresolvedRecord {
	now := s.opts.Now()
	out := make([]model.UnresolvedRecord, 0, len(records))
	for _, r := range records {
		if now.Sub(r.CreatedAt) > s.opts.Retention {
			continue
		}
		out = append(out, r)
	}
	return out
}

func compareEntries(a, b model.UnresolvedRecord) int {
	av, _ := a.Candidate.Identifier.Value()
	bv, _ := b.Candidate.Identifier.Value()
	return cmp.Or(
		a.Candidate.Record.Timestamp.Compare(b.Candidate.Record.Timestamp),
		cmp.Compare(a.Candidate.Record.SessionID, b.Candidate.Record.SessionID),
		cmp.Compare(a.Candidate.Field, b.Candidate.Field),
		cmp.Compare(av, bv),
	)
}

// writeFileAtomic replaces path with data so that readers observe either the
// previous contents or the new contents.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}

	// Persist the rename itself. Not every platform supports syncing a
	// directory; a failure here does not undo the write.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

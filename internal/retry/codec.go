package retry

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/usertrack/internal/model"
)

const formatVersion = 1

var magic = []byte("UTRS")

// ErrCorrupt is returned for a snapshot file that cannot be decoded.
var ErrCorrupt = errors.New("retry store snapshot is corrupt")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	// Keep sub-second precision and an explicit offset.
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("retry: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("retry: CBOR decoder initialization failed: " + err.Error())
	}
}

type snapshot struct {
	WrittenAt time.Time `cbor:"written_at"`
	Records   []entry   `cbor:"records"`
}

// entry is the persisted form of an UnresolvedRecord. Identifiers in the
// store are always present: absent identifiers are never retried.
type entry struct {
	Rule        string    `cbor:"rule"`
	Field       string    `cbor:"field"`
	Identifier  string    `cbor:"identifier"`
	Timestamp   time.Time `cbor:"ts"`
	ClientIP    string    `cbor:"clientip"`
	SessionID   string    `cbor:"session_id"`
	URL         string    `cbor:"url"`
	Request     string    `cbor:"request,omitempty"`
	RequestBody string    `cbor:"request_body"`
	Agent       string    `cbor:"agent"`
	Status      string    `cbor:"status,omitempty"`
	HasStatus   bool      `cbor:"has_status,omitempty"`
	Missing     []string  `cbor:"missing,omitempty"`
	CreatedAt   time.Time `cbor:"created_at"`
	Reason      string    `cbor:"reason"`
	Matches     []int64   `cbor:"matches,omitempty"`
}

func toEntry(u model.UnresolvedRecord) (entry, bool) {
	id, ok := u.Candidate.Identifier.Value()
	if !ok {
		return entry{}, false
	}
	rec := u.Candidate.Record
	return entry{
		Rule:        u.Candidate.Rule,
		Field:       u.Candidate.Field,
		Identifier:  id,
		Timestamp:   rec.Timestamp,
		ClientIP:    rec.ClientIP,
		SessionID:   rec.SessionID,
		URL:         rec.URL,
		Request:     rec.Request,
		RequestBody: rec.RequestBody,
		Agent:       rec.Agent,
		Status:      rec.Status,
		HasStatus:   rec.HasStatus,
		Missing:     rec.Missing(),
		CreatedAt:   u.CreatedAt,
		Reason:      string(u.Reason),
		Matches:     u.Matches,
	}, true
}

func (e entry) record() (model.UnresolvedRecord, error) {
	if e.Identifier == "" {
		return model.UnresolvedRecord{}, fmt.Errorf("%w: entry without identifier", ErrCorrupt)
	}
	rec := model.AccessRecord{
		Timestamp:   e.Timestamp.In(model.Zone),
		ClientIP:    e.ClientIP,
		SessionID:   e.SessionID,
		URL:         e.URL,
		Request:     e.Request,
		RequestBody: e.RequestBody,
		Agent:       e.Agent,
		Status:      e.Status,
		HasStatus:   e.HasStatus,
	}
	if len(e.Missing) > 0 {
		rec = rec.WithMissing(e.Missing...)
	}
	return model.UnresolvedRecord{
		Candidate: model.IdentityCandidate{
			Record:     rec,
			Rule:       e.Rule,
			Field:      e.Field,
			Identifier: model.Present(e.Identifier),
		},
		CreatedAt: e.CreatedAt.In(model.Zone),
		Reason:    model.UnresolvedReason(e.Reason),
		Matches:   e.Matches,
	}, nil
}

// encode renders records into the on-disk format.
func encode(records []model.UnresolvedRecord, writtenAt time.Time, tag CompressionTag) ([]byte, error) {
	snap := snapshot{WrittenAt: writtenAt, Records: make([]entry, 0, len(records))}
	for _, r := range records {
		if e, ok := toEntry(r); ok {
			snap.Records = append(snap.Records, e)
		}
	}

	payload, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	payload, err = compress(tag, payload)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(magic) + 2 + len(payload))
	buf.Write(magic)
	buf.WriteByte(formatVersion)
	buf.WriteByte(byte(tag))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decode parses the on-disk format.
func decode(data []byte) ([]model.UnresolvedRecord, error) {
	if len(data) < len(magic)+2 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if v := data[len(magic)]; v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	tag := CompressionTag(data[len(magic)+1])

	payload, err := decompress(tag, data[len(magic)+2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var snap snapshot
	if err := decMode.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	out := make([]model.UnresolvedRecord, 0, len(snap.Records))
	for _, e := range snap.Records {
		r, err := e.record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

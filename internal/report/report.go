// Package report renders run summaries and account lookups for the CLI.
//
// Text output follows the operator's reading order: one block per session,
// the login that opened it, anyone else seen on it, then its requests. The
// user agent is printed only when it changes between consecutive requests.
// JSON output uses the View types, which carry the same information in a
// stable shape.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/pipeline"
	"github.com/roach88/usertrack/internal/session"
)

// NoRecord is printed when there is nothing to show.
const NoRecord = "no record"

const separator = "----------------------------------------------------------------------------------------------------"

// Mode selects how much of each request is printed.
type Mode string

const (
	// Simple prints time, url, status and agent.
	Simple Mode = "simple"
	// Detail adds the request line and request body.
	Detail Mode = "detail"
)

// ParseMode validates a mode name. Empty means Simple.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Simple:
		return Simple, nil
	case Detail:
		return Detail, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be simple or detail", s)
	}
}

// WriteLookup renders an account report.
func WriteLookup(w io.Writer, r *session.Report, mode Mode) error {
	p := &printer{w: w}
	if r.Empty() {
		p.line(NoRecord)
		return p.err
	}

	for _, s := range r.Sessions {
		login := s.Login
		p.line(separator)
		p.linef(">>>>>> SESSION_ID:%s IP:%s", login.SessionID(), login.Candidate.Record.ClientIP)
		p.linef(">>>>>> account:%s name:%s invited_by_uid:%d login:%s",
			login.User.Account, login.User.Name, login.User.InviterID, model.FormatTime(login.Timestamp()))

		if len(s.Others) > 0 {
			p.line(">>> other users on this session:")
			for _, o := range s.Others {
				p.linef("    %s, %s, %s, invited_by_uid:%d",
					model.FormatTime(o.Timestamp()), o.User.Account, o.User.Name, o.User.InviterID)
			}
		}

		n := s.Narrative
		if n == nil {
			continue
		}
		if from, to, ok := n.Span(); ok {
			p.linef(">>>>>> session start: %s session end: %s", model.FormatTime(from), model.FormatTime(to))
		}
		if n.Anomaly {
			p.linef(">>>>>> shared session: user ids %s", joinIDs(n.UserIDs()))
		}
		p.line(">>>>>> requests:")
		writeEntries(p, n.Entries, mode)
	}
	return p.err
}

func writeEntries(p *printer, entries []session.Entry, mode Mode) {
	prevAgent := ""
	for i, e := range entries {
		rec := e.Record
		fields := []string{model.FormatTime(rec.Timestamp), rec.URL}
		if mode == Detail {
			fields = append(fields, rec.Request, rec.RequestBody)
		}
		fields = append(fields, status(rec))
		if i == 0 || rec.Agent != prevAgent {
			fields = append(fields, rec.Agent)
		}
		prevAgent = rec.Agent
		p.line(":>> " + strings.Join(fields, ", "))
	}
}

// WriteRun renders a run summary.
func WriteRun(w io.Writer, s *pipeline.Summary) error {
	p := &printer{w: w}
	header := "run " + s.RunID
	if s.DryRun {
		header += " (dry run)"
	}
	p.line(header)
	if !s.Window.From.IsZero() {
		p.linef("  window:       %s .. %s", model.FormatTime(s.Window.From), model.FormatTime(s.Window.To))
	}
	p.linef("  status:       %s", s.Status)

	if s.NoRecord() {
		p.line(NoRecord)
		return p.err
	}

	c := s.Counts
	p.linef("  fetched:      %d", c.Fetched)
	p.linef("  candidates:   %d", c.Candidates)
	p.linef("  carried:      %d", c.Carried)
	p.linef("  resolved:     %d", c.Resolved)
	p.linef("  unresolved:   %d", c.Unresolved)
	p.linef("  unidentified: %d", c.Unidentified)
	p.linef("  ambiguous:    %d", c.Ambiguous)
	p.linef("  anomalies:    %d", c.Anomalies)

	for _, n := range s.Anomalies {
		p.linef("  shared session %s: user ids %s", n.SessionID, joinIDs(n.UserIDs()))
	}
	for _, u := range s.Ambiguous {
		id, _ := u.Candidate.Identifier.Value()
		p.linef("  ambiguous account %s on session %s: user ids %s", id, u.Candidate.Record.SessionID, joinIDs(u.Matches))
	}
	return p.err
}

func status(rec model.AccessRecord) string {
	if !rec.HasStatus {
		return "-"
	}
	return rec.Status
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}

// printer remembers the first write error so render code stays linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s+"\n")
}

func (p *printer) linef(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...))
}

package report

import (
	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/pipeline"
	"github.com/roach88/usertrack/internal/retry"
	"github.com/roach88/usertrack/internal/session"
	"github.com/roach88/usertrack/internal/store"
)

// RunView is the JSON shape of a run summary.
type RunView struct {
	RunID      string         `json:"run_id"`
	WindowFrom string         `json:"window_from,omitempty"`
	WindowTo   string         `json:"window_to,omitempty"`
	Status     string         `json:"status"`
	DryRun     bool           `json:"dry_run"`
	NoRecord   bool           `json:"no_record"`
	Counts     store.Counts   `json:"counts"`
	Anomalies  []SessionBrief `json:"anomalies,omitempty"`
}

// SessionBrief identifies a shared session.
type SessionBrief struct {
	SessionID string  `json:"session_id"`
	UserIDs   []int64 `json:"user_ids"`
}

// NewRunView builds the JSON view of s.
func NewRunView(s *pipeline.Summary) RunView {
	v := RunView{
		RunID:    s.RunID,
		Status:   string(s.Status),
		DryRun:   s.DryRun,
		NoRecord: s.NoRecord(),
		Counts:   s.Counts,
	}
	if !s.Window.From.IsZero() {
		v.WindowFrom = model.FormatTime(s.Window.From)
		v.WindowTo = model.FormatTime(s.Window.To)
	}
	for _, n := range s.Anomalies {
		v.Anomalies = append(v.Anomalies, SessionBrief{SessionID: n.SessionID, UserIDs: n.UserIDs()})
	}
	return v
}

// LookupView is the JSON shape of an account report.
type LookupView struct {
	Account  string        `json:"account"`
	From     string        `json:"from"`
	To       string        `json:"to"`
	NoRecord bool          `json:"no_record"`
	Sessions []SessionView `json:"sessions"`
}

// SessionView is one session in a LookupView.
type SessionView struct {
	SessionID string        `json:"session_id"`
	ClientIP  string        `json:"clientip"`
	Login     UserView      `json:"login"`
	Others    []UserView    `json:"others,omitempty"`
	Shared    bool          `json:"shared"`
	Requests  []RequestView `json:"requests"`
}

// UserView is a resolved user at a point in time.
type UserView struct {
	Time      string `json:"localtime"`
	UserID    int64  `json:"user_id"`
	Account   string `json:"user_account"`
	Name      string `json:"user_realname"`
	InviterID int64  `json:"invited_by_uid"`
}

// RequestView is one request of a session.
type RequestView struct {
	Time        string `json:"localtime"`
	URL         string `json:"url"`
	Request     string `json:"request,omitempty"`
	RequestBody string `json:"request_body,omitempty"`
	Status      string `json:"status,omitempty"`
	Agent       string `json:"agent"`
	UserID      int64  `json:"user_id,omitempty"`
}

func userView(r model.ResolvedRecord) UserView {
	return UserView{
		Time:      model.FormatTime(r.Timestamp()),
		UserID:    r.User.UserID,
		Account:   r.User.Account,
		Name:      r.User.Name,
		InviterID: r.User.InviterID,
	}
}

// NewLookupView builds the JSON view of r. Detail mode keeps the request
// line and body.
func NewLookupView(r *session.Report, mode Mode) LookupView {
	v := LookupView{
		Account:  r.Account,
		From:     model.FormatTime(r.Window.From),
		To:       model.FormatTime(r.Window.To),
		NoRecord: r.Empty(),
		Sessions: []SessionView{},
	}
	for _, s := range r.Sessions {
		sv := SessionView{
			SessionID: s.Login.SessionID(),
			ClientIP:  s.Login.Candidate.Record.ClientIP,
			Login:     userView(s.Login),
			Requests:  []RequestView{},
		}
		for _, o := range s.Others {
			sv.Others = append(sv.Others, userView(o))
		}
		if s.Narrative != nil {
			sv.Shared = s.Narrative.Anomaly
			for _, e := range s.Narrative.Entries {
				rv := RequestView{
					Time:   model.FormatTime(e.Record.Timestamp),
					URL:    e.Record.URL,
					Status: e.Record.Status,
					Agent:  e.Record.Agent,
				}
				if mode == Detail {
					rv.Request = e.Record.Request
					rv.RequestBody = e.Record.RequestBody
				}
				if e.Attributed {
					rv.UserID = e.User.UserID
				}
				sv.Requests = append(sv.Requests, rv)
			}
		}
		v.Sessions = append(v.Sessions, sv)
	}
	return v
}

// PendingView is one retry store record.
type PendingView struct {
	Account   string `json:"account"`
	SessionID string `json:"session_id"`
	Time      string `json:"localtime"`
	CreatedAt string `json:"created_at"`
	Reason    string `json:"reason"`
	Rule      string `json:"rule"`
}

// NewPendingViews lists retry store records.
func NewPendingViews(recs []model.UnresolvedRecord) []PendingView {
	out := make([]PendingView, 0, len(recs))
	for _, u := range recs {
		id, _ := u.Candidate.Identifier.Value()
		out = append(out, PendingView{
			Account:   id,
			SessionID: u.Candidate.Record.SessionID,
			Time:      model.FormatTime(u.Candidate.Record.Timestamp),
			CreatedAt: model.FormatTime(u.CreatedAt),
			Reason:    string(u.Reason),
			Rule:      u.Candidate.Rule,
		})
	}
	return out
}

// RetryView summarises a retry store.
type RetryView struct {
	Path      string        `json:"path"`
	Retention string        `json:"retention"`
	Pending   []PendingView `json:"pending"`
}

// NewRetryView builds the view of a retry store.
func NewRetryView(s *retry.Store) RetryView {
	return RetryView{
		Path:      s.Path(),
		Retention: s.Retention().String(),
		Pending:   NewPendingViews(s.Pending()),
	}
}

package report

import (
	"io"
	"strings"
	"text/tabwriter"

	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/store"
)

// WriteRuns renders ledger rows, newest first.
func WriteRuns(w io.Writer, runs []store.Run) error {
	if len(runs) == 0 {
		_, err := io.WriteString(w, "no runs\n")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := &printer{w: tw}
	p.line("RUN\tSTARTED\tWINDOW\tSTATUS\tFETCHED\tRESOLVED\tUNRESOLVED\tERROR")
	for _, r := range runs {
		window := "-"
		if r.Window != nil {
			window = model.FormatTime(r.Window.From) + " .. " + model.FormatTime(r.Window.To)
		}
		status := string(r.Status)
		if r.DryRun {
			status += " (dry run)"
		}
		p.linef("%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s",
			r.ID, model.FormatTime(r.StartedAt), window, status,
			r.Counts.Fetched, r.Counts.Resolved, r.Counts.Unresolved, orDash(r.ErrorCode))
	}
	if p.err != nil {
		return p.err
	}
	return tw.Flush()
}

// WriteReviews renders the review queue.
func WriteReviews(w io.Writer, reviews []store.Review) error {
	if len(reviews) == 0 {
		_, err := io.WriteString(w, "no reviews\n")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := &printer{w: tw}
	p.line("OBSERVED\tKIND\tSESSION\tACCOUNT\tUSERS")
	for _, r := range reviews {
		p.linef("%s\t%s\t%s\t%s\t%s",
			model.FormatTime(r.ObservedAt), r.Kind, r.SessionID, orDash(r.Account), joinIDs(r.UserIDs))
	}
	if p.err != nil {
		return p.err
	}
	return tw.Flush()
}

// WritePending renders retry store records.
func WritePending(w io.Writer, v RetryView) error {
	p := &printer{w: w}
	p.linef("%s: %d pending (retention %s)", v.Path, len(v.Pending), v.Retention)
	if len(v.Pending) == 0 {
		return p.err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p.w = tw
	p.line("OBSERVED\tACCOUNT\tSESSION\tREASON\tSTORED")
	for _, u := range v.Pending {
		p.linef("%s\t%s\t%s\t%s\t%s", u.Time, u.Account, u.SessionID, u.Reason, u.CreatedAt)
	}
	if p.err != nil {
		return p.err
	}
	return tw.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

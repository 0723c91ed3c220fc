package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/usertrack/internal/model"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed-width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000-07:00"

func formatTime(t time.Time) string {
	return t.In(model.Zone).Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, model.Zone)
}

// RunStatus is the outcome of a run.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusOK      RunStatus = "ok"
	// StatusEmpty marks a run whose window was degenerate or held no records.
	StatusEmpty  RunStatus = "empty"
	StatusFailed RunStatus = "failed"
)

// Counts are the per-run partition sizes.
type Counts struct {
	Fetched      int `json:"fetched"`
	Candidates   int `json:"candidates"`
	Carried      int `json:"carried"`
	Resolved     int `json:"resolved"`
	Unresolved   int `json:"unresolved"`
	Unidentified int `json:"unidentified"`
	Ambiguous    int `json:"ambiguous"`
	Anomalies    int `json:"anomalies"`
}

// Run is one ledger row.
type Run struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Window     *model.Window `json:"-"`
	Status     RunStatus     `json:"status"`
	DryRun     bool          `json:"dry_run"`
	Counts     Counts        `json:"counts"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// BeginRun records a run as started.
func (s *Store) BeginRun(ctx context.Context, id string, startedAt time.Time, dryRun bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, dry_run)
		VALUES (?, ?, ?, ?)
	`, id, formatTime(startedAt), string(StatusRunning), dryRun)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stores the final state of a run started with BeginRun.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	var from, to, finished sql.NullString
	if r.Window != nil {
		from = sql.NullString{String: formatTime(r.Window.From), Valid: true}
		to = sql.NullString{String: formatTime(r.Window.To), Valid: true}
	}
	if r.FinishedAt != nil {
		finished = sql.NullString{String: formatTime(*r.FinishedAt), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, window_from = ?, window_to = ?, status = ?,
			fetched = ?, candidates = ?, carried = ?, resolved = ?, unresolved = ?,
			unidentified = ?, ambiguous = ?, anomalies = ?,
			error_code = ?, error = ?
		WHERE id = ?
	`,
		finished, from, to, string(r.Status),
		r.Counts.Fetched, r.Counts.Candidates, r.Counts.Carried, r.Counts.Resolved, r.Counts.Unresolved,
		r.Counts.Unidentified, r.Counts.Ambiguous, r.Counts.Anomalies,
		nullString(r.ErrorCode), nullString(r.Error),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// Run reads one run.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// RecentRuns lists up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+`
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

const selectRuns = `
	SELECT id, started_at, finished_at, window_from, window_to, status, dry_run,
		fetched, candidates, carried, resolved, unresolved, unidentified, ambiguous, anomalies,
		error_code, error
	FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                      Run
		started, status        string
		finished, from, to     sql.NullString
		errorCode, errorString sql.NullString
	)
	err := row.Scan(&r.ID, &started, &finished, &from, &to, &status, &r.DryRun,
		&r.Counts.Fetched, &r.Counts.Candidates, &r.Counts.Carried, &r.Counts.Resolved,
		&r.Counts.Unresolved, &r.Counts.Unidentified, &r.Counts.Ambiguous, &r.Counts.Anomalies,
		&errorCode, &errorString)
	if err != nil {
		return Run{}, err
	}

	r.Status = RunStatus(status)
	r.ErrorCode = errorCode.String
	r.Error = errorString.String
	if r.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("run %s: started_at: %w", r.ID, err)
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: finished_at: %w", r.ID, err)
		}
		r.FinishedAt = &t
	}
	if from.Valid && to.Valid {
		f, err := parseTime(from.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: window_from: %w", r.ID, err)
		}
		t, err := parseTime(to.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: window_to: %w", r.ID, err)
		}
		r.Window = &model.Window{From: f, To: t}
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

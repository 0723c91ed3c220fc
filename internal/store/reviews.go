package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ReviewKind classifies a review item.
type ReviewKind string

const (
	// ReviewAmbiguousAccount: an extracted account matched several users.
	ReviewAmbiguousAccount ReviewKind = "ambiguous_account"
	// ReviewSharedSession: several users resolved on one session token.
	ReviewSharedSession ReviewKind = "shared_session"
)

// Review is one item in the manual review queue.
type Review struct {
	ID         string     `json:"id"`
	Kind       ReviewKind `json:"kind"`
	SessionID  string     `json:"session_id"`
	Account    string     `json:"account,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
	UserIDs    []int64    `json:"user_ids"`
	RunID      string     `json:"run_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ReviewID derives the content-addressed id of a review item.
func ReviewID(kind ReviewKind, session, account string, observedAt time.Time) string {
	h := blake3.New()
	for _, part := range []string{"usertrack/review/v1", string(kind), session, account, formatTime(observedAt)} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AddReviews inserts review items in one transaction. Items already queued
// are skipped. It returns how many rows were new.
func (s *Store) AddReviews(ctx context.Context, runID string, createdAt time.Time, items []Review) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add reviews: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reviews (id, kind, session_id, account, observed_at, user_ids, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("add reviews: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, it := range items {
		ids, err := json.Marshal(it.UserIDs)
		if err != nil {
			return 0, fmt.Errorf("add reviews: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			ReviewID(it.Kind, it.SessionID, it.Account, it.ObservedAt),
			string(it.Kind),
			it.SessionID,
			it.Account,
			formatTime(it.ObservedAt),
			string(ids),
			nullString(runID),
			formatTime(createdAt),
		)
		if err != nil {
			return 0, fmt.Errorf("add reviews: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add reviews: %w", err)
	}
	return added, nil
}

// ReviewFilter narrows ListReviews.
type ReviewFilter struct {
	Kind  ReviewKind
	Since time.Time
	Limit int
}

// ListReviews returns queued items, oldest observation first.
func (s *Store) ListReviews(ctx context.Context, f ReviewFilter) ([]Review, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, "observed_at >= ?")
		args = append(args, formatTime(f.Since))
	}

	query := `SELECT id, kind, session_id, account, observed_at, user_ids, run_id, created_at FROM reviews`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY observed_at ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	reviews := []Review{}
	for rows.Next() {
		var (
			r                   Review
			kind, observed, ids string
			created             string
			runID               *string
		)
		if err := rows.Scan(&r.ID, &kind, &r.SessionID, &r.Account, &observed, &ids, &runID, &created); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.Kind = ReviewKind(kind)
		if runID != nil {
			r.RunID = *runID
		}
		if err := json.Unmarshal([]byte(ids), &r.UserIDs); err != nil {
			return nil, fmt.Errorf("review %s: user_ids: %w", r.ID, err)
		}
		if r.ObservedAt, err = parseTime(observed); err != nil {
			return nil, fmt.Errorf("review %s: observed_at: %w", r.ID, err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("review %s: created_at: %w", r.ID, err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return reviews, nil
}

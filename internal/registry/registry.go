// Package registry reads the user registry, the relational table that maps
// account identifiers to users.
//
// A run takes one snapshot of the registry and joins against it in memory.
// The production driver is MySQL, built in. Any other database/sql driver
// must be registered by the program; the usertrack binary registers
// SQLite for local registry snapshots.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/roach88/usertrack/internal/model"
)

// DefaultQuery selects real users with a known inviter.
const DefaultQuery = `SELECT user_id, user_account, user_realname, invited_by_uid, apply_time
FROM rb_user
WHERE user_id > 1 AND invited_by_uid >= 0
ORDER BY user_id`

// Driver names.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Registry is a handle on the user registry.
type Registry struct {
	db     *sql.DB
	query  string
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	// Query must return user_id, user_account, user_realname,
	// invited_by_uid and apply_time in that order. Empty means DefaultQuery.
	Query string

	// Timeout bounds connection setup for MySQL. Zero leaves the driver default.
	Timeout time.Duration

	Logger *slog.Logger
}

// Open connects to the registry. For MySQL the DSN is parsed and
// normalised so DATETIME values are interpreted in model.Zone.
func Open(driver, dsn string, opts Options) (*Registry, error) {
	if dsn == "" {
		return nil, errors.New("registry: dsn is empty")
	}

	var db *sql.DB
	switch driver {
	case DriverMySQL, "":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("registry: parse dsn: %w", err)
		}
		cfg.Loc = model.Zone
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		conn, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		db = sql.OpenDB(conn)
	default:
		var err error
		db, err = sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("registry: open %s: %w", driver, err)
		}
	}

	return New(db, opts), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, opts Options) *Registry {
	r := &Registry{db: db, query: opts.Query, logger: opts.Logger}
	if r.query == "" {
		r.query = DefaultQuery
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Close releases the connection pool.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Snapshot reads every user. Rows whose account cannot be used as a join
// key are skipped and logged.
func (r *Registry) Snapshot(ctx context.Context) ([]model.UserRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.query)
	if err != nil {
		return nil, fmt.Errorf("registry: query: %w", err)
	}
	defer rows.Close()

	var users []model.UserRecord
	skipped := 0
	for rows.Next() {
		var (
			userID    any
			account   any
			name      sql.NullString
			inviter   sql.NullInt64
			appliedAt any
		)
		if err := rows.Scan(&userID, &account, &name, &inviter, &appliedAt); err != nil {
			return nil, fmt.Errorf("registry: scan: %w", err)
		}

		id, err := toInt64(userID)
		if err != nil {
			return nil, fmt.Errorf("registry: user_id: %w", err)
		}
		acct, err := model.CanonicalAccount(account)
		if err != nil {
			r.logger.Warn("skipping registry row", "user_id", id, "error", err)
			skipped++
			continue
		}

		u := model.UserRecord{
			UserID:       id,
			Account:      acct,
			Name:         name.String,
			InviterID:    model.NoInviter,
			RegisteredAt: formatApplyTime(appliedAt),
		}
		if inviter.Valid {
			u.InviterID = inviter.Int64
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: rows: %w", err)
	}

	r.logger.Debug("registry snapshot", "users", len(users), "skipped", skipped)
	return users, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// formatApplyTime renders a registration time in the output layout. Values
// that cannot be parsed are passed through unchanged.
func formatApplyTime(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return model.FormatTime(x)
	case []byte:
		return formatApplyTime(string(x))
	case string:
		if x == "" {
			return ""
		}
		t, err := model.ParseTime(x)
		if err != nil {
			return x
		}
		return model.FormatTime(t)
	default:
		return fmt.Sprint(x)
	}
}

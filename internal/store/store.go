// Package store is the transactional persistence layer. Every method takes
// a Scope carrying the caller's role and tenant; queries over tenant-owned
// tables get a school_id predicate appended unless the caller is a
// super admin, so no caller above this layer can forget to filter.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/auth"
	"github.com/ppdb-id/ppdb-backend/internal/db"
	"github.com/ppdb-id/ppdb-backend/internal/model"
)

// Scope is the tenant session opened around every logical operation.
type Scope struct {
	auth.Principal
}

// SystemScope is used by background sweeps and bootstrap paths that operate
// across tenants by design.
func SystemScope() Scope {
	return Scope{auth.Principal{Role: model.RoleSuperAdmin}}
}

// crossTenant reports whether the scope may see rows of any school.
func (s Scope) crossTenant() bool { return s.Role == model.RoleSuperAdmin }

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	q      dbtx
	root   *sql.DB // nil when the store is bound to a transaction
	driver db.Driver
}

func New(d *sql.DB, driver db.Driver) *Store {
	return &Store{q: d, root: d, driver: driver}
}

// WithTx runs fn with a Store bound to a single transaction. Nested calls
// are not supported; callers group related writes at one level.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.root == nil {
		return apperr.New(apperr.KindInternal, "store: nested transaction")
	}
	return db.WithTx(ctx, s.root, nil, func(tx *sql.Tx) error {
		return fn(&Store{q: tx, driver: s.driver})
	})
}

func (s *Store) forUpdate() string { return db.ForUpdate(s.driver) }

/* ----------------------------- error mapping ------------------------------ */

// wrapDB classifies driver errors: unique violations become Conflict,
// missing rows NotFound, everything else Internal.
func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return apperr.NotFound(op + ": not found")
	}
	if isUniqueViolation(err) {
		return apperr.Conflict(op + ": already exists")
	}
	return apperr.Wrap(apperr.KindInternal, op, err)
}

// Matching on message text keeps this driver-agnostic across pgx and
// modernc sqlite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "SQLSTATE 23505") || // pgx
		strings.Contains(msg, "duplicate key value") // postgres text
}

/* ------------------------------ null helpers ------------------------------ */

func unix(t time.Time) int64 { return t.Unix() }

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeOf(v int64) time.Time { return time.Unix(v, 0).UTC() }

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

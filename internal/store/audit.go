package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/model"
)

// AppendAudit records one immutable audit entry. Failures here are reported
// to the caller but must not abort the audited operation.
func (st *Store) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	now := time.Now()
	err := st.q.QueryRowContext(ctx,
		`INSERT INTO audit_log (school_id, user_id, entity_type, entity_id, action,
		   old_value, new_value, ip_address, user_agent, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		nullInt64(e.SchoolID), nullInt64(e.UserID), e.EntityType, e.EntityID, string(e.Action),
		e.OldValue, e.NewValue, e.IPAddress, e.UserAgent, unix(now),
	).Scan(&e.ID)
	if err != nil {
		return wrapDB("append audit", err)
	}
	e.CreatedAt = now
	return nil
}

type AuditFilter struct {
	Page       int
	PageSize   int
	EntityType string
	EntityID   int64
	Action     model.AuditAction
}

func (st *Store) ListAudit(ctx context.Context, scope Scope, f AuditFilter) ([]model.AuditEntry, int64, error) {
	var args []any
	where := ` WHERE 1=1` + tenantPredicate(scope, &args)
	if f.EntityType != "" {
		where += fmt.Sprintf(` AND entity_type = $%d`, len(args)+1)
		args = append(args, f.EntityType)
	}
	if f.EntityID != 0 {
		where += fmt.Sprintf(` AND entity_id = $%d`, len(args)+1)
		args = append(args, f.EntityID)
	}
	if f.Action != "" {
		where += fmt.Sprintf(` AND action = $%d`, len(args)+1)
		args = append(args, string(f.Action))
	}

	var total int64
	if err := st.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDB("count audit entries", err)
	}

	q := `SELECT id, school_id, user_id, entity_type, entity_id, action,
	       old_value, new_value, ip_address, user_agent, created_at
	      FROM audit_log` + where +
		fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, wrapDB("list audit entries", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var schoolID, userID sql.NullInt64
		var created int64
		if err := rows.Scan(&e.ID, &schoolID, &userID, &e.EntityType, &e.EntityID, &e.Action,
			&e.OldValue, &e.NewValue, &e.IPAddress, &e.UserAgent, &created); err != nil {
			return nil, 0, wrapDB("scan audit entry", err)
		}
		e.SchoolID = int64Ptr(schoolID)
		e.UserID = int64Ptr(userID)
		e.CreatedAt = timeOf(created)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

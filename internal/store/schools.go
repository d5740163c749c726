package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
)

const schoolCols = `id, name, npsn, code, address, phone, email, status, created_at, updated_at`

func scanSchool(row interface{ Scan(...any) error }) (*model.School, error) {
	var s model.School
	var created, updated int64
	err := row.Scan(&s.ID, &s.Name, &s.NPSN, &s.Code, &s.Address, &s.Phone, &s.Email, &s.Status, &created, &updated)
	if err != nil {
		return nil, err
	}
	s.CreatedAt, s.UpdatedAt = timeOf(created), timeOf(updated)
	return &s, nil
}

// CreateSchool is cross-tenant by nature; the caller must be a super admin.
func (st *Store) CreateSchool(ctx context.Context, scope Scope, s *model.School) error {
	if !scope.crossTenant() {
		return apperr.Forbidden("only a platform administrator can create schools")
	}
	now := time.Now()
	err := st.q.QueryRowContext(ctx,
		`INSERT INTO schools (name, npsn, code, address, phone, email, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		s.Name, s.NPSN, s.Code, s.Address, s.Phone, s.Email, string(model.SchoolActive), unix(now), unix(now),
	).Scan(&s.ID)
	if err != nil {
		return wrapDB("create school", err)
	}
	s.Status = model.SchoolActive
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

// GetSchool returns the school if the scope may see it. A school admin only
// sees their own school; an out-of-scope id reads as NotFound.
func (st *Store) GetSchool(ctx context.Context, scope Scope, id int64) (*model.School, error) {
	q := `SELECT ` + schoolCols + ` FROM schools WHERE id = $1`
	args := []any{id}
	if !scope.crossTenant() {
		q += ` AND id = $2`
		args = append(args, scope.Tenant())
	}
	s, err := scanSchool(st.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapDB("get school", err)
	}
	return s, nil
}

type SchoolFilter struct {
	Page     int
	PageSize int
	Search   string
	Status   model.SchoolStatus
}

func (st *Store) ListSchools(ctx context.Context, scope Scope, f SchoolFilter) ([]model.School, int64, error) {
	if !scope.crossTenant() {
		return nil, 0, apperr.Forbidden("only a platform administrator can list schools")
	}
	where := ` WHERE 1=1`
	var args []any
	if f.Search != "" {
		where += fmt.Sprintf(` AND (name LIKE $%d OR npsn LIKE $%d)`, len(args)+1, len(args)+2)
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat)
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(f.Status))
	}

	var total int64
	if err := st.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM schools`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDB("count schools", err)
	}

	q := `SELECT ` + schoolCols + ` FROM schools` + where +
		fmt.Sprintf(` ORDER BY id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, wrapDB("list schools", err)
	}
	defer rows.Close()

	var out []model.School
	for rows.Next() {
		s, err := scanSchool(rows)
		if err != nil {
			return nil, 0, wrapDB("scan school", err)
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

func (st *Store) UpdateSchool(ctx context.Context, scope Scope, s *model.School) error {
	if !scope.crossTenant() {
		return apperr.Forbidden("only a platform administrator can update schools")
	}
	res, err := st.q.ExecContext(ctx,
		`UPDATE schools SET name=$1, npsn=$2, code=$3, address=$4, phone=$5, email=$6, status=$7, updated_at=$8
		 WHERE id=$9`,
		s.Name, s.NPSN, s.Code, s.Address, s.Phone, s.Email, string(s.Status), unix(time.Now()), s.ID)
	if err != nil {
		return wrapDB("update school", err)
	}
	return requireAffected(res, "update school")
}

// SetSchoolStatus drives activate/deactivate and the soft delete (inactive).
func (st *Store) SetSchoolStatus(ctx context.Context, scope Scope, id int64, status model.SchoolStatus) error {
	if !scope.crossTenant() {
		return apperr.Forbidden("only a platform administrator can change school status")
	}
	res, err := st.q.ExecContext(ctx,
		`UPDATE schools SET status=$1, updated_at=$2 WHERE id=$3`,
		string(status), unix(time.Now()), id)
	if err != nil {
		return wrapDB("set school status", err)
	}
	return requireAffected(res, "set school status")
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB(op, err)
	}
	if n == 0 {
		return apperr.NotFound(op + ": not found")
	}
	return nil
}

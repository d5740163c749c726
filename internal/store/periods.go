package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
)

const periodCols = `id, school_id, academic_year, level, start_date, end_date,
	registration_start, registration_end, announcement_date, reenrollment_deadline,
	status, created_at, updated_at`

func scanPeriod(row interface{ Scan(...any) error }) (*model.Period, error) {
	var p model.Period
	var start, end, regStart, regEnd, reenroll, created, updated int64
	var announce sql.NullInt64
	err := row.Scan(&p.ID, &p.SchoolID, &p.AcademicYear, &p.Level, &start, &end,
		&regStart, &regEnd, &announce, &reenroll, &p.Status, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.StartDate, p.EndDate = timeOf(start), timeOf(end)
	p.RegistrationStart, p.RegistrationEnd = timeOf(regStart), timeOf(regEnd)
	p.AnnouncementDate = timePtr(announce)
	p.ReenrollmentDeadline = timeOf(reenroll)
	p.CreatedAt, p.UpdatedAt = timeOf(created), timeOf(updated)
	return &p, nil
}

// tenantPredicate appends the school_id filter for non-super-admin scopes.
func tenantPredicate(scope Scope, args *[]any) string {
	if scope.crossTenant() {
		return ""
	}
	*args = append(*args, scope.Tenant())
	return fmt.Sprintf(` AND school_id = $%d`, len(*args))
}

func (st *Store) CreatePeriod(ctx context.Context, scope Scope, p *model.Period) error {
	if !scope.crossTenant() && p.SchoolID != scope.Tenant() {
		return apperr.NotFound("create period: school not found")
	}
	now := time.Now()
	err := st.q.QueryRowContext(ctx,
		`INSERT INTO periods (school_id, academic_year, level, start_date, end_date,
		   registration_start, registration_end, reenrollment_deadline, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		p.SchoolID, p.AcademicYear, string(p.Level), unix(p.StartDate), unix(p.EndDate),
		unix(p.RegistrationStart), unix(p.RegistrationEnd), unix(p.ReenrollmentDeadline),
		string(model.PeriodDraft), unix(now), unix(now),
	).Scan(&p.ID)
	if err != nil {
		return wrapDB("create period", err)
	}
	p.Status = model.PeriodDraft
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (st *Store) GetPeriod(ctx context.Context, scope Scope, id int64) (*model.Period, error) {
	args := []any{id}
	q := `SELECT ` + periodCols + ` FROM periods WHERE id = $1` + tenantPredicate(scope, &args)
	p, err := scanPeriod(st.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapDB("get period", err)
	}
	return p, nil
}

// GetPeriodForUpdate locks the period row for the rest of the transaction.
// The submit sequence counter and selection both serialize on this lock.
func (st *Store) GetPeriodForUpdate(ctx context.Context, scope Scope, id int64) (*model.Period, error) {
	args := []any{id}
	q := `SELECT ` + periodCols + ` FROM periods WHERE id = $1` + tenantPredicate(scope, &args) + st.forUpdate()
	p, err := scanPeriod(st.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapDB("lock period", err)
	}
	return p, nil
}

// GetActivePeriodByKey finds the active period for (school, year, level), if any.
func (st *Store) GetActivePeriodByKey(ctx context.Context, schoolID int64, year string, level model.Level) (*model.Period, error) {
	p, err := scanPeriod(st.q.QueryRowContext(ctx,
		`SELECT `+periodCols+` FROM periods
		 WHERE school_id = $1 AND academic_year = $2 AND level = $3 AND status = $4`,
		schoolID, year, string(level), string(model.PeriodActive)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDB("get active period", err)
	}
	return p, nil
}

type PeriodFilter struct {
	Page         int
	PageSize     int
	Status       model.PeriodStatus
	AcademicYear string
	Level        model.Level
}

func (st *Store) ListPeriods(ctx context.Context, scope Scope, f PeriodFilter) ([]model.Period, int64, error) {
	var args []any
	where := ` WHERE 1=1` + tenantPredicate(scope, &args)
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(f.Status))
	}
	if f.AcademicYear != "" {
		where += fmt.Sprintf(` AND academic_year = $%d`, len(args)+1)
		args = append(args, f.AcademicYear)
	}
	if f.Level != "" {
		where += fmt.Sprintf(` AND level = $%d`, len(args)+1)
		args = append(args, string(f.Level))
	}

	var total int64
	if err := st.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM periods`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDB("count periods", err)
	}

	q := `SELECT ` + periodCols + ` FROM periods` + where +
		fmt.Sprintf(` ORDER BY id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, wrapDB("list periods", err)
	}
	defer rows.Close()

	var out []model.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, 0, wrapDB("scan period", err)
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (st *Store) UpdatePeriodDates(ctx context.Context, scope Scope, p *model.Period) error {
	args := []any{unix(p.StartDate), unix(p.EndDate), unix(p.RegistrationStart), unix(p.RegistrationEnd),
		unix(p.ReenrollmentDeadline), unix(time.Now()), p.ID}
	q := `UPDATE periods SET start_date=$1, end_date=$2, registration_start=$3, registration_end=$4,
	       reenrollment_deadline=$5, updated_at=$6 WHERE id=$7`
	if !scope.crossTenant() {
		q += ` AND school_id = $8`
		args = append(args, scope.Tenant())
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("update period", err)
	}
	return requireAffected(res, "update period")
}

func (st *Store) SetPeriodStatus(ctx context.Context, scope Scope, id int64, status model.PeriodStatus) error {
	args := []any{string(status), unix(time.Now()), id}
	q := `UPDATE periods SET status=$1, updated_at=$2 WHERE id=$3`
	if !scope.crossTenant() {
		q += ` AND school_id = $4`
		args = append(args, scope.Tenant())
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("set period status", err)
	}
	return requireAffected(res, "set period status")
}

// SetAnnouncementDate writes the date only when unset, keeping Announce
// idempotent. Returns true when this call actually set it.
func (st *Store) SetAnnouncementDate(ctx context.Context, scope Scope, id int64, at time.Time) (bool, error) {
	args := []any{unix(at), unix(time.Now()), id}
	q := `UPDATE periods SET announcement_date=$1, updated_at=$2 WHERE id=$3 AND announcement_date IS NULL`
	if !scope.crossTenant() {
		q += ` AND school_id = $4`
		args = append(args, scope.Tenant())
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return false, wrapDB("set announcement date", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDB("set announcement date", err)
	}
	return n > 0, nil
}

func (st *Store) DeletePeriod(ctx context.Context, scope Scope, id int64) error {
	args := []any{id}
	q := `DELETE FROM periods WHERE id = $1`
	if !scope.crossTenant() {
		q += ` AND school_id = $2`
		args = append(args, scope.Tenant())
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("delete period", err)
	}
	return requireAffected(res, "delete period")
}

/* ----------------------------- registration paths ------------------------- */

const pathCols = `id, period_id, school_id, path_type, name, quota, description, scoring_config, created_at, updated_at`

func scanPath(row interface{ Scan(...any) error }) (*model.RegistrationPath, error) {
	var p model.RegistrationPath
	var cfg string
	var created, updated int64
	err := row.Scan(&p.ID, &p.PeriodID, &p.SchoolID, &p.PathType, &p.Name, &p.Quota, &p.Description, &cfg, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &p.ScoringConfig); err != nil {
		return nil, fmt.Errorf("decode scoring_config: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = timeOf(created), timeOf(updated)
	return &p, nil
}

func (st *Store) CreatePath(ctx context.Context, scope Scope, p *model.RegistrationPath) error {
	if !scope.crossTenant() && p.SchoolID != scope.Tenant() {
		return apperr.NotFound("create path: period not found")
	}
	cfg, err := json.Marshal(p.ScoringConfig)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode scoring_config", err)
	}
	now := time.Now()
	err = st.q.QueryRowContext(ctx,
		`INSERT INTO registration_paths (period_id, school_id, path_type, name, quota, description, scoring_config, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		p.PeriodID, p.SchoolID, string(p.PathType), p.Name, p.Quota, p.Description, string(cfg), unix(now), unix(now),
	).Scan(&p.ID)
	if err != nil {
		return wrapDB("create path", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (st *Store) GetPath(ctx context.Context, scope Scope, id int64) (*model.RegistrationPath, error) {
	args := []any{id}
	q := `SELECT ` + pathCols + ` FROM registration_paths WHERE id = $1` + tenantPredicate(scope, &args)
	p, err := scanPath(st.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapDB("get path", err)
	}
	return p, nil
}

func (st *Store) ListPathsByPeriod(ctx context.Context, scope Scope, periodID int64) ([]model.RegistrationPath, error) {
	args := []any{periodID}
	q := `SELECT ` + pathCols + ` FROM registration_paths WHERE period_id = $1` + tenantPredicate(scope, &args) + ` ORDER BY id`
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB("list paths", err)
	}
	defer rows.Close()

	var out []model.RegistrationPath
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, wrapDB("scan path", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (st *Store) UpdatePath(ctx context.Context, scope Scope, p *model.RegistrationPath) error {
	cfg, err := json.Marshal(p.ScoringConfig)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode scoring_config", err)
	}
	args := []any{p.Name, p.Quota, p.Description, string(cfg), unix(time.Now()), p.ID}
	q := `UPDATE registration_paths SET name=$1, quota=$2, description=$3, scoring_config=$4, updated_at=$5 WHERE id=$6`
	if !scope.crossTenant() {
		q += ` AND school_id = $7`
		args = append(args, scope.Tenant())
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("update path", err)
	}
	return requireAffected(res, "update path")
}

func (st *Store) DeletePath(ctx context.Context, scope Scope, id int64) error {
	args := []any{id}
	q := `DELETE FROM registration_paths WHERE id = $1`
	if !scope.crossTenant() {
		q += ` AND school_id = $2`
		args = append(args, scope.Tenant())
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("delete path", err)
	}
	return requireAffected(res, "delete path")
}

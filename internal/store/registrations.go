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

const registrationCols = `id, school_id, user_id, period_id, path_id, registration_number,
	student_nisn, student_name, student_gender, student_birth_place, student_birth_date,
	student_religion, student_address, student_phone, student_email,
	parent_name, parent_nik, parent_phone, parent_occupation, parent_income,
	previous_school_name, previous_school_npsn, previous_school_address,
	path_data, selection_score, ranking, status, rejection_reason, admin_notes,
	submitted_at, verified_at, verified_by, created_at, updated_at`

func scanRegistration(row interface{ Scan(...any) error }) (*model.Registration, error) {
	var r model.Registration
	var number sql.NullString
	var birthDate, created, updated int64
	var score sql.NullFloat64
	var ranking, submittedAt, verifiedAt, verifiedBy sql.NullInt64
	var pathData string
	err := row.Scan(&r.ID, &r.SchoolID, &r.UserID, &r.PeriodID, &r.PathID, &number,
		&r.StudentNISN, &r.StudentName, &r.StudentGender, &r.StudentBirthPlace, &birthDate,
		&r.StudentReligion, &r.StudentAddress, &r.StudentPhone, &r.StudentEmail,
		&r.ParentName, &r.ParentNIK, &r.ParentPhone, &r.ParentOccupation, &r.ParentIncome,
		&r.PreviousSchoolName, &r.PreviousSchoolNPSN, &r.PreviousSchoolAddress,
		&pathData, &score, &ranking, &r.Status, &r.RejectionReason, &r.AdminNotes,
		&submittedAt, &verifiedAt, &verifiedBy, &created, &updated)
	if err != nil {
		return nil, err
	}
	r.RegistrationNumber = number.String
	r.StudentBirthDate = timeOf(birthDate)
	if err := json.Unmarshal([]byte(pathData), &r.PathData); err != nil {
		return nil, fmt.Errorf("decode path_data: %w", err)
	}
	r.SelectionScore = float64Ptr(score)
	r.Ranking = intPtr(ranking)
	r.SubmittedAt = timePtr(submittedAt)
	r.VerifiedAt = timePtr(verifiedAt)
	r.VerifiedBy = int64Ptr(verifiedBy)
	r.CreatedAt, r.UpdatedAt = timeOf(created), timeOf(updated)
	return &r, nil
}

// registrationScopePredicate narrows visibility: school admins to their
// tenant, parents to their own registrations. Parent accounts carry no
// school, so ownership is the whole filter for them.
func registrationScopePredicate(scope Scope, args *[]any) string {
	if scope.IsParent() {
		*args = append(*args, scope.UserID)
		return fmt.Sprintf(` AND user_id = $%d`, len(*args))
	}
	return tenantPredicate(scope, args)
}

func (st *Store) CreateRegistration(ctx context.Context, scope Scope, r *model.Registration) error {
	pd, err := json.Marshal(r.PathData)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode path_data", err)
	}
	now := time.Now()
	err = st.q.QueryRowContext(ctx,
		`INSERT INTO registrations (school_id, user_id, period_id, path_id,
		   student_nisn, student_name, student_gender, student_birth_place, student_birth_date,
		   student_religion, student_address, student_phone, student_email,
		   parent_name, parent_nik, parent_phone, parent_occupation, parent_income,
		   previous_school_name, previous_school_npsn, previous_school_address,
		   path_data, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
		 RETURNING id`,
		r.SchoolID, r.UserID, r.PeriodID, r.PathID,
		r.StudentNISN, r.StudentName, r.StudentGender, r.StudentBirthPlace, unix(r.StudentBirthDate),
		r.StudentReligion, r.StudentAddress, r.StudentPhone, r.StudentEmail,
		r.ParentName, r.ParentNIK, r.ParentPhone, r.ParentOccupation, r.ParentIncome,
		r.PreviousSchoolName, r.PreviousSchoolNPSN, r.PreviousSchoolAddress,
		string(pd), string(model.StatusDraft), unix(now), unix(now),
	).Scan(&r.ID)
	if err != nil {
		return wrapDB("create registration", err)
	}
	r.Status = model.StatusDraft
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

func (st *Store) GetRegistration(ctx context.Context, scope Scope, id int64) (*model.Registration, error) {
	args := []any{id}
	q := `SELECT ` + registrationCols + ` FROM registrations WHERE id = $1` + registrationScopePredicate(scope, &args)
	r, err := scanRegistration(st.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapDB("get registration", err)
	}
	return r, nil
}

// GetRegistrationForUpdate locks the row; concurrent status transitions on
// the same registration serialize here and the loser fails its precondition.
func (st *Store) GetRegistrationForUpdate(ctx context.Context, scope Scope, id int64) (*model.Registration, error) {
	args := []any{id}
	q := `SELECT ` + registrationCols + ` FROM registrations WHERE id = $1` +
		registrationScopePredicate(scope, &args) + st.forUpdate()
	r, err := scanRegistration(st.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapDB("lock registration", err)
	}
	return r, nil
}

// GetRegistrationByNumber backs the anonymous result lookup; it is
// deliberately unscoped and the caller is responsible for the NISN check
// and the announcement gate.
func (st *Store) GetRegistrationByNumber(ctx context.Context, number string) (*model.Registration, error) {
	r, err := scanRegistration(st.q.QueryRowContext(ctx,
		`SELECT `+registrationCols+` FROM registrations WHERE registration_number = $1`, number))
	if err != nil {
		return nil, wrapDB("get registration by number", err)
	}
	return r, nil
}

type RegistrationFilter struct {
	Page     int
	PageSize int
	PeriodID int64
	PathID   int64
	Status   model.RegistrationStatus
	// OrderBySubmission lists in submission order instead of id order.
	OrderBySubmission bool
}

func (st *Store) ListRegistrations(ctx context.Context, scope Scope, f RegistrationFilter) ([]model.Registration, int64, error) {
	var args []any
	where := ` WHERE 1=1` + registrationScopePredicate(scope, &args)
	if f.PeriodID != 0 {
		where += fmt.Sprintf(` AND period_id = $%d`, len(args)+1)
		args = append(args, f.PeriodID)
	}
	if f.PathID != 0 {
		where += fmt.Sprintf(` AND path_id = $%d`, len(args)+1)
		args = append(args, f.PathID)
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(f.Status))
	}

	var total int64
	if err := st.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDB("count registrations", err)
	}

	order := ` ORDER BY id`
	if f.OrderBySubmission {
		order = ` ORDER BY submitted_at, id`
	}
	q := `SELECT ` + registrationCols + ` FROM registrations` + where + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, wrapDB("list registrations", err)
	}
	defer rows.Close()

	var out []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, wrapDB("scan registration", err)
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// ListVerifiedByPath returns the selection working set in the deterministic
// ranking order: score desc, then created_at asc, then id asc.
func (st *Store) ListVerifiedByPath(ctx context.Context, scope Scope, pathID int64) ([]model.Registration, error) {
	args := []any{pathID, string(model.StatusVerified)}
	q := `SELECT ` + registrationCols + ` FROM registrations
	      WHERE path_id = $1 AND status = $2` + tenantPredicate(scope, &args) +
		` ORDER BY selection_score DESC, created_at ASC, id ASC`
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB("list verified registrations", err)
	}
	defer rows.Close()

	var out []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, wrapDB("scan registration", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListByPathAndStatuses returns registrations on a path in any of the given
// statuses, in ranking order (nulls last by id).
func (st *Store) ListByPathAndStatuses(ctx context.Context, scope Scope, pathID int64, statuses ...model.RegistrationStatus) ([]model.Registration, error) {
	args := []any{pathID}
	in := ""
	for i, s := range statuses {
		if i > 0 {
			in += ","
		}
		args = append(args, string(s))
		in += fmt.Sprintf("$%d", len(args))
	}
	q := `SELECT ` + registrationCols + ` FROM registrations
	      WHERE path_id = $1 AND status IN (` + in + `)` + tenantPredicate(scope, &args) +
		` ORDER BY CASE WHEN ranking IS NULL THEN 1 ELSE 0 END, ranking, id`
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB("list registrations by status", err)
	}
	defer rows.Close()

	var out []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, wrapDB("scan registration", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRegistrationDraft rewrites the editable snapshot while the
// registration is still a draft. The status predicate makes concurrent
// submits fail cleanly.
func (st *Store) UpdateRegistrationDraft(ctx context.Context, scope Scope, r *model.Registration) error {
	pd, err := json.Marshal(r.PathData)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode path_data", err)
	}
	args := []any{r.PathID,
		r.StudentNISN, r.StudentName, r.StudentGender, r.StudentBirthPlace, unix(r.StudentBirthDate),
		r.StudentReligion, r.StudentAddress, r.StudentPhone, r.StudentEmail,
		r.ParentName, r.ParentNIK, r.ParentPhone, r.ParentOccupation, r.ParentIncome,
		r.PreviousSchoolName, r.PreviousSchoolNPSN, r.PreviousSchoolAddress,
		string(pd), unix(time.Now()), r.ID, string(model.StatusDraft)}
	q := `UPDATE registrations SET path_id=$1,
	       student_nisn=$2, student_name=$3, student_gender=$4, student_birth_place=$5, student_birth_date=$6,
	       student_religion=$7, student_address=$8, student_phone=$9, student_email=$10,
	       parent_name=$11, parent_nik=$12, parent_phone=$13, parent_occupation=$14, parent_income=$15,
	       previous_school_name=$16, previous_school_npsn=$17, previous_school_address=$18,
	       path_data=$19, updated_at=$20
	      WHERE id=$21 AND status=$22` + registrationScopePredicate(scope, &args)
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("update registration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB("update registration", err)
	}
	if n == 0 {
		return apperr.Conflict("status_changed: registration is no longer a draft")
	}
	return nil
}

// TransitionStatus moves a registration between states with the old status
// as a guarded precondition. Callers obtain the target via model.Transition.
func (st *Store) TransitionStatus(ctx context.Context, scope Scope, id int64, from, to model.RegistrationStatus, rejectionReason string, verifiedBy *int64) error {
	now := time.Now()
	set := `status=$1, rejection_reason=$2, updated_at=$3`
	args := []any{string(to), rejectionReason, unix(now)}
	switch to {
	case model.StatusVerified:
		set += fmt.Sprintf(`, verified_at=$%d, verified_by=$%d`, len(args)+1, len(args)+2)
		args = append(args, unix(now), nullInt64(verifiedBy))
	case model.StatusRejected:
		if verifiedBy != nil {
			set += fmt.Sprintf(`, verified_by=$%d`, len(args)+1)
			args = append(args, nullInt64(verifiedBy))
		}
	}
	args = append(args, id, string(from))
	q := fmt.Sprintf(`UPDATE registrations SET %s WHERE id=$%d AND status=$%d`, set, len(args)-1, len(args)) +
		registrationScopePredicate(scope, &args)
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("transition registration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB("transition registration", err)
	}
	if n == 0 {
		return apperr.Conflict("status_changed: registration was modified concurrently")
	}
	return nil
}

// MarkSubmitted stamps the minted number and flips draft to submitted in one
// statement. Runs inside the period-locked submit transaction.
func (st *Store) MarkSubmitted(ctx context.Context, scope Scope, id int64, number string, at time.Time) error {
	args := []any{number, string(model.StatusSubmitted), unix(at), unix(at), id, string(model.StatusDraft)}
	q := `UPDATE registrations SET registration_number=$1, status=$2, submitted_at=$3, updated_at=$4
	      WHERE id=$5 AND status=$6` + registrationScopePredicate(scope, &args)
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("submit registration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB("submit registration", err)
	}
	if n == 0 {
		return apperr.Conflict("status_changed: registration is no longer a draft")
	}
	return nil
}

func (st *Store) SetSelectionScore(ctx context.Context, scope Scope, id int64, score float64) error {
	args := []any{score, unix(time.Now()), id}
	q := `UPDATE registrations SET selection_score=$1, updated_at=$2 WHERE id=$3` + tenantPredicate(scope, &args)
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("set selection score", err)
	}
	return requireAffected(res, "set selection score")
}

func (st *Store) SetRanking(ctx context.Context, scope Scope, id int64, ranking int) error {
	args := []any{ranking, unix(time.Now()), id}
	q := `UPDATE registrations SET ranking=$1, updated_at=$2 WHERE id=$3` + tenantPredicate(scope, &args)
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("set ranking", err)
	}
	return requireAffected(res, "set ranking")
}

// CountSubmittedInPeriod backs the registration-number sequence; callers
// hold the period row lock while calling it.
func (st *Store) CountSubmittedInPeriod(ctx context.Context, periodID int64) (int64, error) {
	var n int64
	err := st.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE period_id = $1 AND registration_number IS NOT NULL`,
		periodID).Scan(&n)
	if err != nil {
		return 0, wrapDB("count submissions", err)
	}
	return n, nil
}

// CountByPath counts every registration referencing a path, drafts included.
func (st *Store) CountByPath(ctx context.Context, pathID int64) (int64, error) {
	var n int64
	err := st.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE path_id = $1`, pathID).Scan(&n)
	if err != nil {
		return 0, wrapDB("count by path", err)
	}
	return n, nil
}

func (st *Store) CountByPathAndStatus(ctx context.Context, pathID int64, status model.RegistrationStatus) (int64, error) {
	var n int64
	err := st.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE path_id = $1 AND status = $2`,
		pathID, string(status)).Scan(&n)
	if err != nil {
		return 0, wrapDB("count by path", err)
	}
	return n, nil
}

// CountNonTerminalByUserPeriod enforces the one-live-registration rule.
func (st *Store) CountNonTerminalByUserPeriod(ctx context.Context, userID, periodID int64) (int64, error) {
	var n int64
	err := st.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE user_id = $1 AND period_id = $2 AND status NOT IN ($3,$4,$5)`,
		userID, periodID,
		string(model.StatusRejected), string(model.StatusEnrolled), string(model.StatusExpired)).Scan(&n)
	if err != nil {
		return 0, wrapDB("count live registrations", err)
	}
	return n, nil
}

// CountSelectionDecided counts registrations a selection run has decided:
// accepted and its follow-on states, plus rejections carrying the quota
// reason. Admin rejections do not count as a run.
func (st *Store) CountSelectionDecided(ctx context.Context, periodID int64, quotaReason string) (int64, error) {
	var n int64
	err := st.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE period_id = $1
		   AND (status IN ($2,$3,$4) OR (status = $5 AND rejection_reason = $6))`,
		periodID,
		string(model.StatusAccepted), string(model.StatusEnrolled), string(model.StatusExpired),
		string(model.StatusRejected), quotaReason).Scan(&n)
	if err != nil {
		return 0, wrapDB("count selection decisions", err)
	}
	return n, nil
}

func (st *Store) CountNonDraftByPeriod(ctx context.Context, periodID int64) (int64, error) {
	var n int64
	err := st.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE period_id = $1 AND status <> $2`,
		periodID, string(model.StatusDraft)).Scan(&n)
	if err != nil {
		return 0, wrapDB("count non-draft registrations", err)
	}
	return n, nil
}

// StatusCounts returns registration counts per status for a period.
func (st *Store) StatusCounts(ctx context.Context, scope Scope, periodID int64) (map[model.RegistrationStatus]int64, error) {
	args := []any{periodID}
	q := `SELECT status, COUNT(*) FROM registrations WHERE period_id = $1` +
		tenantPredicate(scope, &args) + ` GROUP BY status`
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB("status counts", err)
	}
	defer rows.Close()

	out := map[model.RegistrationStatus]int64{}
	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, wrapDB("scan status count", err)
		}
		out[model.RegistrationStatus(s)] = n
	}
	return out, rows.Err()
}

// ExpireOverdueAccepted transitions accepted registrations whose period's
// re-enrollment deadline has passed. Idempotent: already-expired rows no
// longer match.
func (st *Store) ExpireOverdueAccepted(ctx context.Context, now time.Time) (int64, error) {
	res, err := st.q.ExecContext(ctx,
		`UPDATE registrations SET status=$1, updated_at=$2
		 WHERE status=$3 AND period_id IN (
		   SELECT id FROM periods WHERE reenrollment_deadline < $4
		 )`,
		string(model.StatusExpired), unix(now), string(model.StatusAccepted), unix(now))
	if err != nil {
		return 0, wrapDB("expire registrations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDB("expire registrations", err)
	}
	return n, nil
}

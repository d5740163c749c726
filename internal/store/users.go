package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
)

const userCols = `id, email, password_hash, full_name, phone, nik, role, school_id,
	email_verified, email_verification_token, reset_password_token, reset_password_expires,
	last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var schoolID, resetExpires, lastLogin sql.NullInt64
	var created, updated int64
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &u.NIK, &u.Role, &schoolID,
		&u.EmailVerified, &u.EmailVerificationToken, &u.ResetPasswordToken, &resetExpires,
		&lastLogin, &created, &updated)
	if err != nil {
		return nil, err
	}
	u.SchoolID = int64Ptr(schoolID)
	u.ResetPasswordExpires = timePtr(resetExpires)
	u.LastLoginAt = timePtr(lastLogin)
	u.CreatedAt, u.UpdatedAt = timeOf(created), timeOf(updated)
	return &u, nil
}

// userScope constrains user visibility: school admins see their tenant's
// users, parents see only themselves.
func userScopePredicate(scope Scope, args *[]any) string {
	switch scope.Role {
	case model.RoleSuperAdmin:
		return ""
	case model.RoleSchoolAdmin:
		*args = append(*args, scope.Tenant())
		return fmt.Sprintf(` AND school_id = $%d`, len(*args))
	default:
		*args = append(*args, scope.UserID)
		return fmt.Sprintf(` AND id = $%d`, len(*args))
	}
}

func (st *Store) CreateUser(ctx context.Context, scope Scope, u *model.User) error {
	if scope.Role == model.RoleSchoolAdmin {
		// A school admin creates users only inside their own tenant.
		if u.SchoolID == nil || *u.SchoolID != scope.Tenant() {
			return apperr.Forbidden("cannot create a user outside your school")
		}
	}
	now := time.Now()
	err := st.q.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, full_name, phone, nik, role, school_id,
		   email_verified, email_verification_token, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		u.Email, u.PasswordHash, u.FullName, u.Phone, u.NIK, string(u.Role), nullInt64(u.SchoolID),
		u.EmailVerified, u.EmailVerificationToken, unix(now), unix(now),
	).Scan(&u.ID)
	if err != nil {
		return wrapDB("create user", err)
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

func (st *Store) GetUser(ctx context.Context, scope Scope, id int64) (*model.User, error) {
	args := []any{id}
	q := `SELECT ` + userCols + ` FROM users WHERE id = $1` + userScopePredicate(scope, &args)
	u, err := scanUser(st.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapDB("get user", err)
	}
	return u, nil
}

// GetUserByEmail serves the pre-authentication identity flows and is
// deliberately unscoped; email is globally unique.
func (st *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(st.q.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, wrapDB("get user by email", err)
	}
	return u, nil
}

func (st *Store) GetUserByVerificationToken(ctx context.Context, token string) (*model.User, error) {
	u, err := scanUser(st.q.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE email_verification_token = $1 AND email_verification_token <> ''`, token))
	if err != nil {
		return nil, wrapDB("get user by verification token", err)
	}
	return u, nil
}

func (st *Store) GetUserByResetToken(ctx context.Context, token string) (*model.User, error) {
	u, err := scanUser(st.q.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE reset_password_token = $1 AND reset_password_token <> ''`, token))
	if err != nil {
		return nil, wrapDB("get user by reset token", err)
	}
	return u, nil
}

type UserFilter struct {
	Page     int
	PageSize int
	Search   string
	Role     model.Role
}

func (st *Store) ListUsers(ctx context.Context, scope Scope, f UserFilter) ([]model.User, int64, error) {
	var args []any
	where := ` WHERE 1=1` + userScopePredicate(scope, &args)
	if f.Search != "" {
		where += fmt.Sprintf(` AND (full_name LIKE $%d OR email LIKE $%d)`, len(args)+1, len(args)+2)
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat)
	}
	if f.Role != "" {
		where += fmt.Sprintf(` AND role = $%d`, len(args)+1)
		args = append(args, string(f.Role))
	}

	var total int64
	if err := st.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDB("count users", err)
	}

	q := `SELECT ` + userCols + ` FROM users` + where +
		fmt.Sprintf(` ORDER BY id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, wrapDB("list users", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, wrapDB("scan user", err)
		}
		out = append(out, *u)
	}
	return out, total, rows.Err()
}

// UpdateUserProfile updates the mutable profile fields only.
func (st *Store) UpdateUserProfile(ctx context.Context, scope Scope, id int64, fullName, phone, nik string) error {
	args := []any{fullName, phone, nik, unix(time.Now()), id}
	q := `UPDATE users SET full_name=$1, phone=$2, nik=$3, updated_at=$4 WHERE id=$5`
	switch scope.Role {
	case model.RoleSuperAdmin:
	case model.RoleSchoolAdmin:
		q += ` AND school_id = $6`
		args = append(args, scope.Tenant())
	default:
		q += ` AND id = $6`
		args = append(args, scope.UserID)
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("update user", err)
	}
	return requireAffected(res, "update user")
}

func (st *Store) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := st.q.ExecContext(ctx,
		`UPDATE users SET password_hash=$1, reset_password_token='', reset_password_expires=NULL, updated_at=$2 WHERE id=$3`,
		passwordHash, unix(time.Now()), id)
	if err != nil {
		return wrapDB("update password", err)
	}
	return requireAffected(res, "update password")
}

func (st *Store) DeleteUser(ctx context.Context, scope Scope, id int64) error {
	args := []any{id}
	q := `DELETE FROM users WHERE id = $1`
	if scope.Role == model.RoleSchoolAdmin {
		q += ` AND school_id = $2`
		args = append(args, scope.Tenant())
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("delete user", err)
	}
	return requireAffected(res, "delete user")
}

func (st *Store) CountSchoolAdmins(ctx context.Context, schoolID int64) (int64, error) {
	var n int64
	err := st.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = $1 AND school_id = $2`,
		string(model.RoleSchoolAdmin), schoolID).Scan(&n)
	if err != nil {
		return 0, wrapDB("count school admins", err)
	}
	return n, nil
}

func (st *Store) MarkEmailVerified(ctx context.Context, id int64) error {
	res, err := st.q.ExecContext(ctx,
		`UPDATE users SET email_verified=TRUE, email_verification_token='', updated_at=$1 WHERE id=$2`,
		unix(time.Now()), id)
	if err != nil {
		return wrapDB("verify email", err)
	}
	return requireAffected(res, "verify email")
}

func (st *Store) SetResetToken(ctx context.Context, id int64, token string, expires time.Time) error {
	res, err := st.q.ExecContext(ctx,
		`UPDATE users SET reset_password_token=$1, reset_password_expires=$2, updated_at=$3 WHERE id=$4`,
		token, unix(expires), unix(time.Now()), id)
	if err != nil {
		return wrapDB("set reset token", err)
	}
	return requireAffected(res, "set reset token")
}

func (st *Store) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := st.q.ExecContext(ctx,
		`UPDATE users SET last_login_at=$1, updated_at=$1 WHERE id=$2`, unix(time.Now()), id)
	return wrapDB("touch last login", err)
}

package catalog

import (
	"context"
	"regexp"
	"strings"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

var userEmailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type UserInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
	NIK      string
	Role     model.Role
	SchoolID *int64
}

// CreateUser provisions an account on behalf of an administrator. Only a
// super admin may mint another super admin; school admins create staff and
// parent accounts inside their own tenant. Admin-provisioned accounts skip
// email verification.
func (s *Service) CreateUser(ctx context.Context, scope store.Scope, in UserInput) (*model.User, error) {
	var fields []apperr.FieldError
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if !userEmailRx.MatchString(in.Email) {
		fields = append(fields, apperr.FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if len(in.Password) < 8 {
		fields = append(fields, apperr.FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	if strings.TrimSpace(in.FullName) == "" {
		fields = append(fields, apperr.FieldError{Field: "full_name", Message: "is required"})
	}
	if !in.Role.Valid() {
		fields = append(fields, apperr.FieldError{Field: "role", Message: "unknown role"})
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid user", fields...)
	}

	if in.Role == model.RoleSuperAdmin && !scope.IsSuperAdmin() {
		return nil, apperr.Forbidden("only a platform administrator can create platform administrators")
	}
	if in.Role == model.RoleSchoolAdmin && in.SchoolID == nil {
		return nil, apperr.Validation("invalid user",
			apperr.FieldError{Field: "school_id", Message: "is required for school administrators"})
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:         in.Email,
		PasswordHash:  hash,
		FullName:      strings.TrimSpace(in.FullName),
		Phone:         in.Phone,
		NIK:           in.NIK,
		Role:          in.Role,
		SchoolID:      in.SchoolID,
		EmailVerified: true,
	}
	if err := s.store.CreateUser(ctx, scope, u); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return nil, apperr.Conflict("an account with this email already exists")
		}
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: u.SchoolID, UserID: &scope.UserID,
		EntityType: "user", EntityID: u.ID, Action: model.ActionCreate,
	})
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, scope store.Scope, id int64) (*model.User, error) {
	return s.store.GetUser(ctx, scope, id)
}

func (s *Service) ListUsers(ctx context.Context, scope store.Scope, f store.UserFilter) ([]model.User, int64, error) {
	return s.store.ListUsers(ctx, scope, f)
}

func (s *Service) UpdateProfile(ctx context.Context, scope store.Scope, id int64, fullName, phone, nik string) (*model.User, error) {
	if strings.TrimSpace(fullName) == "" {
		return nil, apperr.Validation("invalid profile",
			apperr.FieldError{Field: "full_name", Message: "is required"})
	}
	if err := s.store.UpdateUserProfile(ctx, scope, id, strings.TrimSpace(fullName), phone, nik); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, scope, id)
}

// ChangePassword replaces the caller's own password after re-checking the
// current one.
func (s *Service) ChangePassword(ctx context.Context, scope store.Scope, oldPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return apperr.Validation("invalid password",
			apperr.FieldError{Field: "new_password", Message: "must be at least 8 characters"})
	}
	u, err := s.store.GetUser(ctx, scope, scope.UserID)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(u.PasswordHash, oldPassword) {
		return apperr.Unauthorized("current password is incorrect")
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.store.UpdateUserPassword(ctx, u.ID, hash)
}

// DeleteUser removes an account. The last school admin of a tenant cannot
// be deleted; the school would become unmanageable.
func (s *Service) DeleteUser(ctx context.Context, scope store.Scope, id int64) error {
	u, err := s.store.GetUser(ctx, scope, id)
	if err != nil {
		return err
	}
	if u.Role == model.RoleSchoolAdmin && u.SchoolID != nil {
		n, err := s.store.CountSchoolAdmins(ctx, *u.SchoolID)
		if err != nil {
			return err
		}
		if n <= 1 {
			return apperr.Conflict("cannot delete the last administrator of a school")
		}
	}
	if err := s.store.DeleteUser(ctx, scope, id); err != nil {
		return err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: u.SchoolID, UserID: &scope.UserID,
		EntityType: "user", EntityID: id, Action: model.ActionDelete,
	})
	return nil
}

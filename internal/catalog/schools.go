// Package catalog administers the tenant directory and its admission
// calendar: schools, staff and parent accounts, periods, and the paths each
// period opens.
package catalog

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/auth"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

var npsnRx = regexp.MustCompile(`^\d{8}$`)

type Service struct {
	store   *store.Store
	hasher  auth.Hasher
	auditor *audit.Recorder
	log     *slog.Logger
}

func NewService(st *store.Store, hasher auth.Hasher, auditor *audit.Recorder, log *slog.Logger) *Service {
	return &Service{store: st, hasher: hasher, auditor: auditor, log: log}
}

type SchoolInput struct {
	Name    string
	NPSN    string
	Code    string
	Address string
	Phone   string
	Email   string
}

func (in SchoolInput) validate() error {
	var fields []apperr.FieldError
	if strings.TrimSpace(in.Name) == "" {
		fields = append(fields, apperr.FieldError{Field: "name", Message: "is required"})
	}
	if !npsnRx.MatchString(in.NPSN) {
		fields = append(fields, apperr.FieldError{Field: "npsn", Message: "must be 8 digits"})
	}
	if strings.TrimSpace(in.Code) == "" {
		fields = append(fields, apperr.FieldError{Field: "code", Message: "is required"})
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid school", fields...)
	}
	return nil
}

func (s *Service) CreateSchool(ctx context.Context, scope store.Scope, in SchoolInput) (*model.School, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	sc := &model.School{
		Name:    strings.TrimSpace(in.Name),
		NPSN:    in.NPSN,
		Code:    strings.TrimSpace(in.Code),
		Address: in.Address,
		Phone:   in.Phone,
		Email:   in.Email,
	}
	if err := s.store.CreateSchool(ctx, scope, sc); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		UserID: &scope.UserID, EntityType: "school", EntityID: sc.ID, Action: model.ActionCreate,
		NewValue: sc.Name,
	})
	return sc, nil
}

func (s *Service) GetSchool(ctx context.Context, scope store.Scope, id int64) (*model.School, error) {
	return s.store.GetSchool(ctx, scope, id)
}

func (s *Service) ListSchools(ctx context.Context, scope store.Scope, f store.SchoolFilter) ([]model.School, int64, error) {
	return s.store.ListSchools(ctx, scope, f)
}

func (s *Service) UpdateSchool(ctx context.Context, scope store.Scope, id int64, in SchoolInput) (*model.School, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	sc, err := s.store.GetSchool(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	sc.Name = strings.TrimSpace(in.Name)
	sc.NPSN = in.NPSN
	sc.Code = strings.TrimSpace(in.Code)
	sc.Address, sc.Phone, sc.Email = in.Address, in.Phone, in.Email
	if err := s.store.UpdateSchool(ctx, scope, sc); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		UserID: &scope.UserID, EntityType: "school", EntityID: sc.ID, Action: model.ActionUpdate,
	})
	return sc, nil
}

// SetSchoolStatus drives activation and deactivation. Deactivation is the
// soft delete: the row and its data stay, the tenant stops serving.
func (s *Service) SetSchoolStatus(ctx context.Context, scope store.Scope, id int64, status model.SchoolStatus) error {
	switch status {
	case model.SchoolActive, model.SchoolInactive, model.SchoolSuspended:
	default:
		return apperr.Validation("invalid school status",
			apperr.FieldError{Field: "status", Message: "unknown status"})
	}
	if err := s.store.SetSchoolStatus(ctx, scope, id, status); err != nil {
		return err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		UserID: &scope.UserID, EntityType: "school", EntityID: id, Action: model.ActionUpdate,
		NewValue: string(status),
	})
	return nil
}

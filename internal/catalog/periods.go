package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

type PeriodInput struct {
	SchoolID             int64
	AcademicYear         string
	Level                model.Level
	StartDate            time.Time
	EndDate              time.Time
	RegistrationStart    time.Time
	RegistrationEnd      time.Time
	ReenrollmentDeadline time.Time
}

func (in PeriodInput) validate() error {
	var fields []apperr.FieldError
	if strings.TrimSpace(in.AcademicYear) == "" {
		fields = append(fields, apperr.FieldError{Field: "academic_year", Message: "is required"})
	}
	if !in.Level.Valid() {
		fields = append(fields, apperr.FieldError{Field: "level", Message: "unknown level"})
	}
	if !in.StartDate.Before(in.EndDate) {
		fields = append(fields, apperr.FieldError{Field: "end_date", Message: "must be after start_date"})
	}
	if !in.RegistrationStart.Before(in.RegistrationEnd) {
		fields = append(fields, apperr.FieldError{Field: "registration_end", Message: "must be after registration_start"})
	}
	// The registration window closes before the academic year opens.
	if in.RegistrationEnd.After(in.StartDate) {
		fields = append(fields, apperr.FieldError{Field: "registration_end", Message: "must not be after start_date"})
	}
	if !in.ReenrollmentDeadline.After(in.RegistrationEnd) {
		fields = append(fields, apperr.FieldError{Field: "reenrollment_deadline", Message: "must be after registration_end"})
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid period", fields...)
	}
	return nil
}

func (s *Service) CreatePeriod(ctx context.Context, scope store.Scope, in PeriodInput) (*model.Period, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := &model.Period{
		SchoolID:             in.SchoolID,
		AcademicYear:         strings.TrimSpace(in.AcademicYear),
		Level:                in.Level,
		StartDate:            in.StartDate,
		EndDate:              in.EndDate,
		RegistrationStart:    in.RegistrationStart,
		RegistrationEnd:      in.RegistrationEnd,
		ReenrollmentDeadline: in.ReenrollmentDeadline,
	}
	if err := s.store.CreatePeriod(ctx, scope, p); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &p.SchoolID, UserID: &scope.UserID,
		EntityType: "period", EntityID: p.ID, Action: model.ActionCreate,
	})
	return p, nil
}

func (s *Service) GetPeriod(ctx context.Context, scope store.Scope, id int64) (*model.Period, error) {
	return s.store.GetPeriod(ctx, scope, id)
}

func (s *Service) ListPeriods(ctx context.Context, scope store.Scope, f store.PeriodFilter) ([]model.Period, int64, error) {
	return s.store.ListPeriods(ctx, scope, f)
}

func (s *Service) UpdatePeriodDates(ctx context.Context, scope store.Scope, id int64, in PeriodInput) (*model.Period, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p, err := s.store.GetPeriod(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	p.StartDate, p.EndDate = in.StartDate, in.EndDate
	p.RegistrationStart, p.RegistrationEnd = in.RegistrationStart, in.RegistrationEnd
	p.ReenrollmentDeadline = in.ReenrollmentDeadline
	if err := s.store.UpdatePeriodDates(ctx, scope, p); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &p.SchoolID, UserID: &scope.UserID,
		EntityType: "period", EntityID: p.ID, Action: model.ActionUpdate,
	})
	return p, nil
}

// ActivatePeriod makes a period the live one for its (school, year, level)
// key, closing any previously active period with the same key in the same
// transaction.
func (s *Service) ActivatePeriod(ctx context.Context, scope store.Scope, id int64) error {
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		p, err := tx.GetPeriodForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		if p.Status == model.PeriodActive {
			return nil
		}
		prev, err := tx.GetActivePeriodByKey(ctx, p.SchoolID, p.AcademicYear, p.Level)
		if err != nil {
			return err
		}
		if prev != nil && prev.ID != p.ID {
			if err := tx.SetPeriodStatus(ctx, scope, prev.ID, model.PeriodClosed); err != nil {
				return err
			}
		}
		return tx.SetPeriodStatus(ctx, scope, p.ID, model.PeriodActive)
	})
	if err != nil {
		return err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		UserID: &scope.UserID, EntityType: "period", EntityID: id, Action: model.ActionUpdate,
		NewValue: string(model.PeriodActive),
	})
	return nil
}

func (s *Service) ClosePeriod(ctx context.Context, scope store.Scope, id int64) error {
	if err := s.store.SetPeriodStatus(ctx, scope, id, model.PeriodClosed); err != nil {
		return err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		UserID: &scope.UserID, EntityType: "period", EntityID: id, Action: model.ActionUpdate,
		NewValue: string(model.PeriodClosed),
	})
	return nil
}

// DeletePeriod removes a period that never accepted a submission. Anything
// past draft means applicant data exists and the period must stay.
func (s *Service) DeletePeriod(ctx context.Context, scope store.Scope, id int64) error {
	if _, err := s.store.GetPeriod(ctx, scope, id); err != nil {
		return err
	}
	n, err := s.store.CountNonDraftByPeriod(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("period has submitted registrations and cannot be deleted")
	}
	if err := s.store.DeletePeriod(ctx, scope, id); err != nil {
		return err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		UserID: &scope.UserID, EntityType: "period", EntityID: id, Action: model.ActionDelete,
	})
	return nil
}

/* ----------------------------- registration paths ------------------------- */

type PathInput struct {
	PathType      model.PathType
	Name          string
	Quota         int
	Description   string
	ScoringConfig []byte // raw JSON, validated against the path type
}

func (s *Service) CreatePath(ctx context.Context, scope store.Scope, periodID int64, in PathInput) (*model.RegistrationPath, error) {
	if !in.PathType.Valid() {
		return nil, apperr.Validation("invalid path",
			apperr.FieldError{Field: "path_type", Message: "unknown path type"})
	}
	// Zero is a valid quota: the path exists but admits nobody.
	if in.Quota < 0 {
		return nil, apperr.Validation("invalid path",
			apperr.FieldError{Field: "quota", Message: "must not be negative"})
	}
	cfg, err := model.ParseScoringConfig(in.PathType, in.ScoringConfig)
	if err != nil {
		return nil, err
	}
	period, err := s.store.GetPeriod(ctx, scope, periodID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = string(in.PathType)
	}
	p := &model.RegistrationPath{
		PeriodID:      period.ID,
		SchoolID:      period.SchoolID,
		PathType:      in.PathType,
		Name:          name,
		Quota:         in.Quota,
		Description:   in.Description,
		ScoringConfig: cfg,
	}
	if err := s.store.CreatePath(ctx, scope, p); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &p.SchoolID, UserID: &scope.UserID,
		EntityType: "registration_path", EntityID: p.ID, Action: model.ActionCreate,
	})
	return p, nil
}

func (s *Service) GetPath(ctx context.Context, scope store.Scope, id int64) (*model.RegistrationPath, error) {
	return s.store.GetPath(ctx, scope, id)
}

func (s *Service) ListPaths(ctx context.Context, scope store.Scope, periodID int64) ([]model.RegistrationPath, error) {
	return s.store.ListPathsByPeriod(ctx, scope, periodID)
}

// UpdatePath edits a path. The quota may not shrink below the number of
// already accepted registrations; offers once made are not withdrawn.
func (s *Service) UpdatePath(ctx context.Context, scope store.Scope, id int64, in PathInput) (*model.RegistrationPath, error) {
	p, err := s.store.GetPath(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if in.Quota < 0 {
		return nil, apperr.Validation("invalid path",
			apperr.FieldError{Field: "quota", Message: "must not be negative"})
	}
	cfg, err := model.ParseScoringConfig(p.PathType, in.ScoringConfig)
	if err != nil {
		return nil, err
	}
	if in.Quota < p.Quota {
		accepted, err := s.store.CountByPathAndStatus(ctx, p.ID, model.StatusAccepted)
		if err != nil {
			return nil, err
		}
		if int64(in.Quota) < accepted {
			return nil, apperr.Conflict("quota cannot drop below the number of accepted registrations")
		}
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		p.Name = name
	}
	p.Quota = in.Quota
	p.Description = in.Description
	p.ScoringConfig = cfg
	if err := s.store.UpdatePath(ctx, scope, p); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &p.SchoolID, UserID: &scope.UserID,
		EntityType: "registration_path", EntityID: p.ID, Action: model.ActionUpdate,
	})
	return p, nil
}

// DeletePath removes a path nobody has applied to.
func (s *Service) DeletePath(ctx context.Context, scope store.Scope, id int64) error {
	p, err := s.store.GetPath(ctx, scope, id)
	if err != nil {
		return err
	}
	n, err := s.store.CountByPath(ctx, p.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("path has registrations and cannot be deleted")
	}
	if err := s.store.DeletePath(ctx, scope, id); err != nil {
		return err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &p.SchoolID, UserID: &scope.UserID,
		EntityType: "registration_path", EntityID: id, Action: model.ActionDelete,
	})
	return nil
}

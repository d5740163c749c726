// Package registration implements the applicant side of the admission
// workflow: drafting an application, attaching documents, and submitting it
// into the review pipeline.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/notify"
	"github.com/ppdb-id/ppdb-backend/internal/storage"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

var (
	nisnRx = regexp.MustCompile(`^\d{10}$`)
	nikRx  = regexp.MustCompile(`^\d{16}$`)
)

type Service struct {
	store    *store.Store
	blobs    storage.BlobStore
	notifier notify.Sink
	auditor  *audit.Recorder
	log      *slog.Logger
	now      func() time.Time
}

func NewService(st *store.Store, blobs storage.BlobStore, notifier notify.Sink,
	auditor *audit.Recorder, log *slog.Logger) *Service {
	return &Service{store: st, blobs: blobs, notifier: notifier, auditor: auditor, log: log, now: time.Now}
}

// Input is the applicant-supplied snapshot. PathData is raw JSON validated
// against the chosen path's type.
type Input struct {
	PeriodID int64
	PathID   int64

	StudentNISN       string
	StudentName       string
	StudentGender     string
	StudentBirthPlace string
	StudentBirthDate  time.Time
	StudentReligion   string
	StudentAddress    string
	StudentPhone      string
	StudentEmail      string

	ParentName       string
	ParentNIK        string
	ParentPhone      string
	ParentOccupation string
	ParentIncome     string

	PreviousSchoolName    string
	PreviousSchoolNPSN    string
	PreviousSchoolAddress string

	PathData []byte
}

func (in Input) validate() error {
	var fields []apperr.FieldError
	if !nisnRx.MatchString(in.StudentNISN) {
		fields = append(fields, apperr.FieldError{Field: "student_nisn", Message: "must be 10 digits"})
	}
	if strings.TrimSpace(in.StudentName) == "" {
		fields = append(fields, apperr.FieldError{Field: "student_name", Message: "is required"})
	}
	if in.StudentBirthDate.IsZero() {
		fields = append(fields, apperr.FieldError{Field: "student_birth_date", Message: "is required"})
	}
	if in.ParentNIK != "" && !nikRx.MatchString(in.ParentNIK) {
		fields = append(fields, apperr.FieldError{Field: "parent_nik", Message: "must be 16 digits"})
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid registration", fields...)
	}
	return nil
}

// Create opens a draft inside an active period whose registration window is
// open. A user holds at most one live registration per period.
func (s *Service) Create(ctx context.Context, scope store.Scope, in Input) (*model.Registration, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	period, err := s.store.GetPeriod(ctx, store.SystemScope(), in.PeriodID)
	if err != nil {
		return nil, err
	}
	if period.Status != model.PeriodActive {
		return nil, apperr.Conflict("the admission period is not open")
	}
	now := s.now()
	if now.Before(period.RegistrationStart) || now.After(period.RegistrationEnd) {
		return nil, apperr.Conflict("the registration window is closed")
	}
	path, err := s.store.GetPath(ctx, store.SystemScope(), in.PathID)
	if err != nil {
		return nil, err
	}
	if path.PeriodID != period.ID {
		return nil, apperr.Validation("invalid registration",
			apperr.FieldError{Field: "path_id", Message: "path does not belong to the period"})
	}
	pathData, err := model.ParsePathData(path.PathType, in.PathData)
	if err != nil {
		return nil, err
	}
	live, err := s.store.CountNonTerminalByUserPeriod(ctx, scope.UserID, period.ID)
	if err != nil {
		return nil, err
	}
	if live > 0 {
		return nil, apperr.Conflict("you already have an active registration in this period")
	}

	r := &model.Registration{
		SchoolID: period.SchoolID,
		UserID:   scope.UserID,
		PeriodID: period.ID,
		PathID:   path.ID,
		PathData: pathData,
	}
	applySnapshot(r, in)
	if err := s.store.CreateRegistration(ctx, scope, r); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &r.SchoolID, UserID: &scope.UserID,
		EntityType: "registration", EntityID: r.ID, Action: model.ActionCreate,
	})
	return r, nil
}

func applySnapshot(r *model.Registration, in Input) {
	r.StudentNISN = in.StudentNISN
	r.StudentName = strings.TrimSpace(in.StudentName)
	r.StudentGender = in.StudentGender
	r.StudentBirthPlace = in.StudentBirthPlace
	r.StudentBirthDate = in.StudentBirthDate
	r.StudentReligion = in.StudentReligion
	r.StudentAddress = in.StudentAddress
	r.StudentPhone = in.StudentPhone
	r.StudentEmail = in.StudentEmail
	r.ParentName = in.ParentName
	r.ParentNIK = in.ParentNIK
	r.ParentPhone = in.ParentPhone
	r.ParentOccupation = in.ParentOccupation
	r.ParentIncome = in.ParentIncome
	r.PreviousSchoolName = in.PreviousSchoolName
	r.PreviousSchoolNPSN = in.PreviousSchoolNPSN
	r.PreviousSchoolAddress = in.PreviousSchoolAddress
}

// Update rewrites a draft. The path may change, but only to another path of
// the same period.
func (s *Service) Update(ctx context.Context, scope store.Scope, id int64, in Input) (*model.Registration, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	r, err := s.store.GetRegistration(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if r.Status != model.StatusDraft {
		return nil, apperr.Conflict("only a draft registration can be edited")
	}
	path, err := s.store.GetPath(ctx, store.SystemScope(), in.PathID)
	if err != nil {
		return nil, err
	}
	if path.PeriodID != r.PeriodID {
		return nil, apperr.Validation("invalid registration",
			apperr.FieldError{Field: "path_id", Message: "path does not belong to the period"})
	}
	pathData, err := model.ParsePathData(path.PathType, in.PathData)
	if err != nil {
		return nil, err
	}
	r.PathID = path.ID
	r.PathData = pathData
	applySnapshot(r, in)
	if err := s.store.UpdateRegistrationDraft(ctx, scope, r); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &r.SchoolID, UserID: &scope.UserID,
		EntityType: "registration", EntityID: r.ID, Action: model.ActionUpdate,
	})
	return r, nil
}

func (s *Service) Get(ctx context.Context, scope store.Scope, id int64) (*model.Registration, error) {
	return s.store.GetRegistration(ctx, scope, id)
}

func (s *Service) List(ctx context.Context, scope store.Scope, f store.RegistrationFilter) ([]model.Registration, int64, error) {
	return s.store.ListRegistrations(ctx, scope, f)
}

func (s *Service) Documents(ctx context.Context, scope store.Scope, registrationID int64) ([]model.Document, error) {
	if _, err := s.store.GetRegistration(ctx, scope, registrationID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, scope, registrationID)
}

// Submit moves a draft into the review pipeline, minting its registration
// number under the period row lock so numbers stay dense and unique.
func (s *Service) Submit(ctx context.Context, scope store.Scope, id int64) (*model.Registration, error) {
	var reg *model.Registration
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		r, err := tx.GetRegistrationForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		if _, err := model.Transition(r.Status, model.EventSubmit); err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, store.SystemScope(), r.PeriodID)
		if err != nil {
			return err
		}
		now := s.now()
		if period.Status != model.PeriodActive || now.After(period.RegistrationEnd) {
			return apperr.Conflict("the registration window is closed")
		}
		path, err := tx.GetPath(ctx, store.SystemScope(), r.PathID)
		if err != nil {
			return err
		}
		docs, err := tx.ListDocuments(ctx, scope, r.ID)
		if err != nil {
			return err
		}
		if err := checkRequiredDocuments(path.PathType, docs); err != nil {
			return err
		}
		seq, err := tx.CountSubmittedInPeriod(ctx, period.ID)
		if err != nil {
			return err
		}
		number := fmt.Sprintf("REG-%d-%d-%05d", r.SchoolID, period.ID, seq+1)
		if err := tx.MarkSubmitted(ctx, scope, r.ID, number, now); err != nil {
			return err
		}
		r.RegistrationNumber = number
		r.Status = model.StatusSubmitted
		r.SubmittedAt = &now
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindSubmissionReceived,
		Recipient: reg.StudentEmail,
		Subject:   "Pendaftaran diterima",
		Body:      "Nomor pendaftaran: " + reg.RegistrationNumber,
	}); err != nil {
		s.log.Warn("submission notification not sent", "registration_id", reg.ID, "error", err)
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &reg.SchoolID, UserID: &scope.UserID,
		EntityType: "registration", EntityID: reg.ID, Action: model.ActionSubmit,
		NewValue: reg.RegistrationNumber,
	})
	return reg, nil
}

func checkRequiredDocuments(pt model.PathType, docs []model.Document) error {
	have := map[model.DocumentType]bool{}
	for _, d := range docs {
		have[d.DocumentType] = true
	}
	var missing []apperr.FieldError
	for _, want := range model.RequiredDocuments(pt) {
		if !have[want] {
			missing = append(missing, apperr.FieldError{
				Field: string(want), Message: "document is required before submission",
			})
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("required documents are missing", missing...)
	}
	return nil
}

// Enroll confirms an accepted offer before the re-enrollment deadline.
func (s *Service) Enroll(ctx context.Context, scope store.Scope, id int64) (*model.Registration, error) {
	var reg *model.Registration
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		r, err := tx.GetRegistrationForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		next, err := model.Transition(r.Status, model.EventEnroll)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriod(ctx, store.SystemScope(), r.PeriodID)
		if err != nil {
			return err
		}
		if s.now().After(period.ReenrollmentDeadline) {
			return apperr.Conflict("the re-enrollment deadline has passed")
		}
		if err := tx.TransitionStatus(ctx, scope, r.ID, r.Status, next, "", nil); err != nil {
			return err
		}
		r.Status = next
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &reg.SchoolID, UserID: &scope.UserID,
		EntityType: "registration", EntityID: reg.ID, Action: model.ActionEnroll,
	})
	return reg, nil
}

// ExpireOverdue sweeps accepted registrations whose deadline has passed.
// Safe to run repeatedly; expired rows do not match again.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireOverdueAccepted(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired overdue registrations", "count", n)
	}
	return n, nil
}

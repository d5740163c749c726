// Package verification is the admin review step between submission and
// selection: checking the applicant's documents and moving the registration
// to verified or rejected.
package verification

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/notify"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

const minRejectionReasonLen = 10

type Service struct {
	store    *store.Store
	notifier notify.Sink
	auditor  *audit.Recorder
	log      *slog.Logger
}

func NewService(st *store.Store, notifier notify.Sink, auditor *audit.Recorder, log *slog.Logger) *Service {
	return &Service{store: st, notifier: notifier, auditor: auditor, log: log}
}

// ListPending returns submitted registrations awaiting review, oldest
// submission first.
func (s *Service) ListPending(ctx context.Context, scope store.Scope, periodID int64, page, pageSize int) ([]model.Registration, int64, error) {
	return s.store.ListRegistrations(ctx, scope, store.RegistrationFilter{
		Page: page, PageSize: pageSize,
		PeriodID:          periodID,
		Status:            model.StatusSubmitted,
		OrderBySubmission: true,
	})
}

// VerifyRegistration approves a submitted registration.
func (s *Service) VerifyRegistration(ctx context.Context, scope store.Scope, id int64, notes string) (*model.Registration, error) {
	var reg *model.Registration
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		r, err := tx.GetRegistrationForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		next, err := model.Transition(r.Status, model.EventVerify)
		if err != nil {
			return err
		}
		if err := tx.TransitionStatus(ctx, scope, r.ID, r.Status, next, "", &scope.UserID); err != nil {
			return err
		}
		r.Status = next
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindRegistrationVerified,
		Recipient: reg.StudentEmail,
		Subject:   "Pendaftaran terverifikasi",
		Body:      "Nomor pendaftaran: " + reg.RegistrationNumber,
	}); err != nil {
		s.log.Warn("verification notification not sent", "registration_id", reg.ID, "error", err)
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &reg.SchoolID, UserID: &scope.UserID,
		EntityType: "registration", EntityID: reg.ID, Action: model.ActionVerify,
		NewValue: notes,
	})
	return reg, nil
}

// RejectRegistration refuses a submitted registration with a substantive
// reason. Once verified, a registration leaves the review queue and can only
// be rejected by the selection run.
func (s *Service) RejectRegistration(ctx context.Context, scope store.Scope, id int64, reason string) (*model.Registration, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < minRejectionReasonLen {
		return nil, apperr.Validation("invalid rejection",
			apperr.FieldError{Field: "reason", Message: "must be at least 10 characters"})
	}
	var reg *model.Registration
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		r, err := tx.GetRegistrationForUpdate(ctx, scope, id)
		if err != nil {
			return err
		}
		if r.Status != model.StatusSubmitted {
			return apperr.Conflict("only a submitted registration can be rejected during review")
		}
		next, err := model.Transition(r.Status, model.EventReject)
		if err != nil {
			return err
		}
		if err := tx.TransitionStatus(ctx, scope, r.ID, r.Status, next, reason, &scope.UserID); err != nil {
			return err
		}
		r.Status = next
		r.RejectionReason = reason
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindRegistrationRejected,
		Recipient: reg.StudentEmail,
		Subject:   "Pendaftaran ditolak",
		Body:      reason,
	}); err != nil {
		s.log.Warn("rejection notification not sent", "registration_id", reg.ID, "error", err)
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &reg.SchoolID, UserID: &scope.UserID,
		EntityType: "registration", EntityID: reg.ID, Action: model.ActionReject,
		NewValue: reason,
	})
	return reg, nil
}

// VerifyDocument records a reviewer decision on one document. Rejections
// need a reason; approvals clear any previous one.
func (s *Service) VerifyDocument(ctx context.Context, scope store.Scope, documentID int64, status model.VerificationStatus, reason string) (*model.Document, error) {
	switch status {
	case model.VerificationApproved:
		reason = ""
	case model.VerificationRejected:
		if strings.TrimSpace(reason) == "" {
			return nil, apperr.Validation("invalid document review",
				apperr.FieldError{Field: "reason", Message: "is required when rejecting"})
		}
	default:
		return nil, apperr.Validation("invalid document review",
			apperr.FieldError{Field: "status", Message: "must be approved or rejected"})
	}
	doc, err := s.store.GetDocument(ctx, scope, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDocumentVerification(ctx, scope, doc.ID, status, reason, scope.UserID); err != nil {
		return nil, err
	}
	doc.VerificationStatus = status
	doc.RejectionReason = reason
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &doc.SchoolID, UserID: &scope.UserID,
		EntityType: "document", EntityID: doc.ID, Action: model.ActionVerify,
		NewValue: string(status),
	})
	return doc, nil
}

// Stats summarizes the review workload for a period.
type Stats struct {
	Registrations map[model.RegistrationStatus]int64 `json:"registrations"`
	Documents     map[model.VerificationStatus]int64 `json:"documents"`
}

func (s *Service) PeriodStats(ctx context.Context, scope store.Scope, periodID int64) (*Stats, error) {
	if _, err := s.store.GetPeriod(ctx, scope, periodID); err != nil {
		return nil, err
	}
	regs, err := s.store.StatusCounts(ctx, scope, periodID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.DocumentStatusCounts(ctx, scope, periodID)
	if err != nil {
		return nil, err
	}
	return &Stats{Registrations: regs, Documents: docs}, nil
}

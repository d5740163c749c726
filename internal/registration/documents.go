package registration

import (
	"context"
	"io"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

const maxDocumentSize = 2 << 20 // 2 MiB

var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

type Upload struct {
	DocumentType model.DocumentType
	FileName     string
	MimeType     string
	Size         int64
	Content      io.Reader
}

// AttachDocument stores an upload on a draft registration. Uploading the
// same document type again replaces the previous file. The attached set
// freezes at submission.
func (s *Service) AttachDocument(ctx context.Context, scope store.Scope, registrationID int64, up Upload) (*model.Document, error) {
	if !up.DocumentType.Valid() {
		return nil, apperr.Validation("invalid document",
			apperr.FieldError{Field: "document_type", Message: "unknown document type"})
	}
	if !allowedMimeTypes[up.MimeType] {
		return nil, apperr.Validation("invalid document",
			apperr.FieldError{Field: "mime_type", Message: "must be JPEG, PNG, or PDF"})
	}
	if up.Size <= 0 || up.Size > maxDocumentSize {
		return nil, apperr.Validation("invalid document",
			apperr.FieldError{Field: "file_size", Message: "must be between 1 byte and 2 MiB"})
	}
	r, err := s.store.GetRegistration(ctx, scope, registrationID)
	if err != nil {
		return nil, err
	}
	if r.Status != model.StatusDraft {
		return nil, apperr.Conflict("documents can only be attached to a draft registration")
	}

	url, err := s.blobs.Store(ctx, up.FileName, io.LimitReader(up.Content, maxDocumentSize))
	if err != nil {
		return nil, err
	}
	doc := &model.Document{
		RegistrationID: r.ID,
		SchoolID:       r.SchoolID,
		DocumentType:   up.DocumentType,
		FileURL:        url,
		FileName:       up.FileName,
		FileSize:       up.Size,
		MimeType:       up.MimeType,
	}
	if err := s.store.CreateDocument(ctx, scope, doc); err != nil {
		if derr := s.blobs.Delete(ctx, url); derr != nil {
			s.log.Warn("orphaned blob not removed", "url", url, "error", derr)
		}
		return nil, err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &r.SchoolID, UserID: &scope.UserID,
		EntityType: "document", EntityID: doc.ID, Action: model.ActionCreate,
		NewValue: string(doc.DocumentType),
	})
	return doc, nil
}

// DetachDocument removes a document from a draft. Once submitted, the
// attached set is part of the reviewed record and stays.
func (s *Service) DetachDocument(ctx context.Context, scope store.Scope, registrationID, documentID int64) error {
	r, err := s.store.GetRegistration(ctx, scope, registrationID)
	if err != nil {
		return err
	}
	if r.Status != model.StatusDraft {
		return apperr.Conflict("documents can only be removed from a draft registration")
	}
	doc, err := s.store.GetDocument(ctx, scope, documentID)
	if err != nil {
		return err
	}
	if doc.RegistrationID != r.ID {
		return apperr.NotFound("get document: not found")
	}
	if err := s.store.SoftDeleteDocument(ctx, scope, doc.ID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, doc.FileURL); err != nil {
		s.log.Warn("detached blob not removed", "url", doc.FileURL, "error", err)
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: &r.SchoolID, UserID: &scope.UserID,
		EntityType: "document", EntityID: doc.ID, Action: model.ActionDelete,
	})
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/model"
)

const documentCols = `d.id, d.registration_id, d.school_id, d.document_type, d.file_url, d.file_name,
	d.file_size, d.mime_type, d.verification_status, d.rejection_reason,
	d.verified_by, d.verified_at, d.created_at, d.updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*model.Document, error) {
	var d model.Document
	var verifiedBy, verifiedAt sql.NullInt64
	var created, updated int64
	err := row.Scan(&d.ID, &d.RegistrationID, &d.SchoolID, &d.DocumentType, &d.FileURL, &d.FileName,
		&d.FileSize, &d.MimeType, &d.VerificationStatus, &d.RejectionReason,
		&verifiedBy, &verifiedAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	d.VerifiedBy = int64Ptr(verifiedBy)
	d.VerifiedAt = timePtr(verifiedAt)
	d.CreatedAt, d.UpdatedAt = timeOf(created), timeOf(updated)
	return &d, nil
}

// documentScopePredicate joins through the owning registration so parents
// only see documents on their own registrations. Parent accounts carry no
// school, so ownership replaces the tenant filter for them.
func documentScopePredicate(scope Scope, args *[]any) string {
	if scope.IsParent() {
		*args = append(*args, scope.UserID)
		return fmt.Sprintf(` AND d.registration_id IN (SELECT id FROM registrations WHERE user_id = $%d)`, len(*args))
	}
	if !scope.crossTenant() {
		*args = append(*args, scope.Tenant())
		return fmt.Sprintf(` AND d.school_id = $%d`, len(*args))
	}
	return ""
}

// CreateDocument stores the upload record, soft-deleting any live document
// of the same type on the registration first. Run inside a transaction.
func (st *Store) CreateDocument(ctx context.Context, scope Scope, d *model.Document) error {
	now := time.Now()
	_, err := st.q.ExecContext(ctx,
		`UPDATE documents SET deleted_at=$1, updated_at=$1
		 WHERE registration_id=$2 AND document_type=$3 AND deleted_at IS NULL`,
		unix(now), d.RegistrationID, string(d.DocumentType))
	if err != nil {
		return wrapDB("replace document", err)
	}
	err = st.q.QueryRowContext(ctx,
		`INSERT INTO documents (registration_id, school_id, document_type, file_url, file_name,
		   file_size, mime_type, verification_status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		d.RegistrationID, d.SchoolID, string(d.DocumentType), d.FileURL, d.FileName,
		d.FileSize, d.MimeType, string(model.VerificationPending), unix(now), unix(now),
	).Scan(&d.ID)
	if err != nil {
		return wrapDB("create document", err)
	}
	d.VerificationStatus = model.VerificationPending
	d.CreatedAt, d.UpdatedAt = now, now
	return nil
}

func (st *Store) GetDocument(ctx context.Context, scope Scope, id int64) (*model.Document, error) {
	args := []any{id}
	q := `SELECT ` + documentCols + ` FROM documents d WHERE d.id = $1 AND d.deleted_at IS NULL` +
		documentScopePredicate(scope, &args)
	d, err := scanDocument(st.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapDB("get document", err)
	}
	return d, nil
}

// ListDocuments returns the live documents of a registration.
func (st *Store) ListDocuments(ctx context.Context, scope Scope, registrationID int64) ([]model.Document, error) {
	args := []any{registrationID}
	q := `SELECT ` + documentCols + ` FROM documents d
	      WHERE d.registration_id = $1 AND d.deleted_at IS NULL` +
		documentScopePredicate(scope, &args) + ` ORDER BY d.id`
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB("list documents", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, wrapDB("scan document", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// SoftDeleteDocument detaches a document; the file itself is removed by the
// caller once the row is gone.
func (st *Store) SoftDeleteDocument(ctx context.Context, scope Scope, id int64) error {
	args := []any{unix(time.Now()), id}
	q := `UPDATE documents SET deleted_at=$1, updated_at=$1 WHERE id=$2 AND deleted_at IS NULL`
	if scope.IsParent() {
		args = append(args, scope.UserID)
		q += fmt.Sprintf(` AND registration_id IN (SELECT id FROM registrations WHERE user_id = $%d)`, len(args))
	} else if !scope.crossTenant() {
		args = append(args, scope.Tenant())
		q += fmt.Sprintf(` AND school_id = $%d`, len(args))
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("delete document", err)
	}
	return requireAffected(res, "delete document")
}

// SetDocumentVerification records a reviewer decision on one document.
func (st *Store) SetDocumentVerification(ctx context.Context, scope Scope, id int64, status model.VerificationStatus, reason string, verifiedBy int64) error {
	args := []any{string(status), reason, verifiedBy, unix(time.Now()), id}
	q := `UPDATE documents SET verification_status=$1, rejection_reason=$2, verified_by=$3,
	       verified_at=$4, updated_at=$4 WHERE id=$5 AND deleted_at IS NULL`
	if !scope.crossTenant() {
		args = append(args, scope.Tenant())
		q += fmt.Sprintf(` AND school_id = $%d`, len(args))
	}
	res, err := st.q.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDB("verify document", err)
	}
	return requireAffected(res, "verify document")
}

// DocumentStatusCounts aggregates live-document verification states for a
// period, keyed by status.
func (st *Store) DocumentStatusCounts(ctx context.Context, scope Scope, periodID int64) (map[model.VerificationStatus]int64, error) {
	args := []any{periodID}
	q := `SELECT d.verification_status, COUNT(*) FROM documents d
	      JOIN registrations r ON r.id = d.registration_id
	      WHERE r.period_id = $1 AND d.deleted_at IS NULL` +
		documentScopePredicate(scope, &args) + ` GROUP BY d.verification_status`
	rows, err := st.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDB("document status counts", err)
	}
	defer rows.Close()

	out := map[model.VerificationStatus]int64{}
	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, wrapDB("scan document count", err)
		}
		out[model.VerificationStatus(s)] = n
	}
	return out, rows.Err()
}

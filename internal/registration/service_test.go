package registration

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/auth"
	"github.com/ppdb-id/ppdb-backend/internal/db"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/notify"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

type sinkRecorder struct {
	sent []notify.Notification
}

func (s *sinkRecorder) Send(_ context.Context, n notify.Notification) error {
	s.sent = append(s.sent, n)
	return nil
}

// memBlobs is an in-memory BlobStore so tests never touch the filesystem.
type memBlobs struct {
	blobs map[string][]byte
	seq   int
}

func newMemBlobs() *memBlobs { return &memBlobs{blobs: map[string][]byte{}} }

func (m *memBlobs) Store(_ context.Context, name string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.seq++
	url := "/files/blob-" + strconv.Itoa(m.seq)
	m.blobs[url] = b
	return url, nil
}

func (m *memBlobs) Delete(_ context.Context, url string) error {
	delete(m.blobs, url)
	return nil
}

type fixture struct {
	store  *store.Store
	svc    *Service
	sink   *sinkRecorder
	blobs  *memBlobs
	school *model.School
	period *model.Period
	path   *model.RegistrationPath
	admin  store.Scope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	d, err := db.Open(ctx, db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	st := store.New(d, db.DriverSQLite)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := &sinkRecorder{}
	blobs := newMemBlobs()
	svc := NewService(st, blobs, sink, audit.NewRecorder(st, log), log)

	school := &model.School{Name: "SMA 1", NPSN: "10000001", Code: "SMA1"}
	if err := st.CreateSchool(ctx, store.SystemScope(), school); err != nil {
		t.Fatalf("seed school: %v", err)
	}
	now := time.Now()
	period := &model.Period{
		SchoolID: school.ID, AcademicYear: "2026/2027", Level: model.LevelSMA,
		StartDate:            now.Add(-24 * time.Hour),
		EndDate:              now.Add(90 * 24 * time.Hour),
		RegistrationStart:    now.Add(-24 * time.Hour),
		RegistrationEnd:      now.Add(30 * 24 * time.Hour),
		ReenrollmentDeadline: now.Add(60 * 24 * time.Hour),
	}
	if err := st.CreatePeriod(ctx, store.SystemScope(), period); err != nil {
		t.Fatalf("seed period: %v", err)
	}
	if err := st.SetPeriodStatus(ctx, store.SystemScope(), period.ID, model.PeriodActive); err != nil {
		t.Fatalf("activate period: %v", err)
	}
	period.Status = model.PeriodActive
	path := &model.RegistrationPath{
		PeriodID: period.ID, SchoolID: school.ID,
		PathType: model.PathZonasi, Name: "Zonasi", Quota: 10,
		ScoringConfig: model.ScoringConfig{MaxDistanceKm: 5, Weight: 1},
	}
	if err := st.CreatePath(ctx, store.SystemScope(), path); err != nil {
		t.Fatalf("seed path: %v", err)
	}

	return &fixture{
		store: st, svc: svc, sink: sink, blobs: blobs,
		school: school, period: period, path: path,
		admin: store.Scope{Principal: auth.Principal{UserID: 999, Role: model.RoleSchoolAdmin, SchoolID: &school.ID}},
	}
}

func (f *fixture) parent(t *testing.T, email string) store.Scope {
	t.Helper()
	u := &model.User{
		Email: email, PasswordHash: "x", FullName: "Parent",
		Role: model.RoleParent, EmailVerified: true,
	}
	if err := f.store.CreateUser(context.Background(), store.SystemScope(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return store.Scope{Principal: auth.Principal{UserID: u.ID, Role: model.RoleParent}}
}

func validInput(f *fixture) Input {
	return Input{
		PeriodID:         f.period.ID,
		PathID:           f.path.ID,
		StudentNISN:      "0012345678",
		StudentName:      "Budi Santoso",
		StudentBirthDate: time.Date(2010, 5, 17, 0, 0, 0, 0, time.UTC),
		PathData:         []byte(`{"distance_km":2.0}`),
	}
}

func (f *fixture) attach(t *testing.T, scope store.Scope, regID int64, dt model.DocumentType) *model.Document {
	t.Helper()
	doc, err := f.svc.AttachDocument(context.Background(), scope, regID, Upload{
		DocumentType: dt,
		FileName:     string(dt) + ".pdf",
		MimeType:     "application/pdf",
		Size:         1024,
		Content:      strings.NewReader("%PDF-1.4 stub"),
	})
	if err != nil {
		t.Fatalf("attach %s: %v", dt, err)
	}
	return doc
}

func (f *fixture) attachRequired(t *testing.T, scope store.Scope, regID int64) {
	t.Helper()
	for _, dt := range model.RequiredDocuments(f.path.PathType) {
		f.attach(t, scope, regID, dt)
	}
}

func TestCreateValidatesSnapshot(t *testing.T) {
	f := newFixture(t)
	scope := f.parent(t, "p@example.com")
	in := validInput(f)
	in.StudentNISN = "123" // not 10 digits
	_, err := f.svc.Create(context.Background(), scope, in)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("kind = %v, want Validation", apperr.KindOf(err))
	}
}

func TestCreateRequiresOpenWindow(t *testing.T) {
	f := newFixture(t)
	scope := f.parent(t, "p@example.com")
	f.svc.now = func() time.Time { return f.period.RegistrationEnd.Add(time.Hour) }
	_, err := f.svc.Create(context.Background(), scope, validInput(f))
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestCreateOneLiveRegistrationPerPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")

	first, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != model.StatusDraft {
		t.Fatalf("status = %s, want draft", first.Status)
	}

	if _, err := f.svc.Create(ctx, scope, validInput(f)); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("second create: kind = %v, want Conflict", apperr.KindOf(err))
	}

	// A terminally rejected registration frees the slot.
	f.attachRequired(t, scope, first.ID)
	if _, err := f.svc.Submit(ctx, scope, first.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.store.TransitionStatus(ctx, f.admin, first.ID,
		model.StatusSubmitted, model.StatusRejected, "berkas tidak lengkap", &f.admin.UserID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.Create(ctx, scope, validInput(f)); err != nil {
		t.Fatalf("create after rejection: %v", err)
	}
}

func TestCreateRejectsPathFromAnotherPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := &model.Period{
		SchoolID: f.school.ID, AcademicYear: "2027/2028", Level: model.LevelSMA,
		StartDate:            f.period.StartDate.AddDate(1, 0, 0),
		EndDate:              f.period.EndDate.AddDate(1, 0, 0),
		RegistrationStart:    f.period.RegistrationStart.AddDate(1, 0, 0),
		RegistrationEnd:      f.period.RegistrationEnd.AddDate(1, 0, 0),
		ReenrollmentDeadline: f.period.ReenrollmentDeadline.AddDate(1, 0, 0),
	}
	if err := f.store.CreatePeriod(ctx, store.SystemScope(), other); err != nil {
		t.Fatalf("seed period: %v", err)
	}
	foreign := &model.RegistrationPath{
		PeriodID: other.ID, SchoolID: f.school.ID,
		PathType: model.PathZonasi, Name: "Zonasi", Quota: 5,
		ScoringConfig: model.ScoringConfig{MaxDistanceKm: 5, Weight: 1},
	}
	if err := f.store.CreatePath(ctx, store.SystemScope(), foreign); err != nil {
		t.Fatalf("seed path: %v", err)
	}

	scope := f.parent(t, "p@example.com")
	in := validInput(f)
	in.PathID = foreign.ID
	_, err := f.svc.Create(ctx, scope, in)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("kind = %v, want Validation", apperr.KindOf(err))
	}
}

func TestUpdateOnlyTouchesDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")
	r, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	in := validInput(f)
	in.StudentName = "Budi S. Revised"
	updated, err := f.svc.Update(ctx, scope, r.ID, in)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.StudentName != "Budi S. Revised" {
		t.Fatalf("name = %q", updated.StudentName)
	}

	f.attachRequired(t, scope, r.ID)
	if _, err := f.svc.Submit(ctx, scope, r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.Update(ctx, scope, r.ID, in); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("update after submit: kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestSubmitRequiresDocumentsAndMintsNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")
	r, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.Submit(ctx, scope, r.ID)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("submit without documents: kind = %v, want Validation", apperr.KindOf(err))
	}
	if fields := apperr.FieldsOf(err); len(fields) != 2 {
		t.Fatalf("missing fields = %d, want 2 (kartu keluarga, akta kelahiran)", len(fields))
	}

	f.attachRequired(t, scope, r.ID)
	sub, err := f.svc.Submit(ctx, scope, r.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	wantNumber := "REG-" + strconv.FormatInt(f.school.ID, 10) + "-" + strconv.FormatInt(f.period.ID, 10) + "-00001"
	if sub.RegistrationNumber != wantNumber {
		t.Fatalf("number = %s, want %s", sub.RegistrationNumber, wantNumber)
	}
	if sub.Status != model.StatusSubmitted || sub.SubmittedAt == nil {
		t.Fatalf("status = %s, submitted_at = %v", sub.Status, sub.SubmittedAt)
	}

	// The applicant gets a receipt carrying the number.
	if len(f.sink.sent) != 1 || f.sink.sent[0].Kind != notify.KindSubmissionReceived {
		t.Fatalf("notifications = %+v, want one submission receipt", f.sink.sent)
	}

	if _, err := f.svc.Submit(ctx, scope, r.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("resubmit: kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestSubmitNumbersAreSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		scope := f.parent(t, email)
		in := validInput(f)
		in.StudentNISN = "001234567" + strconv.Itoa(i)
		r, err := f.svc.Create(ctx, scope, in)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		f.attachRequired(t, scope, r.ID)
		sub, err := f.svc.Submit(ctx, scope, r.ID)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		wantSuffix := "-0000" + strconv.Itoa(i+1)
		if !strings.HasSuffix(sub.RegistrationNumber, wantSuffix) {
			t.Fatalf("number %d = %s, want suffix %s", i, sub.RegistrationNumber, wantSuffix)
		}
	}
}

func TestAttachDocumentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")
	r, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		name string
		up   Upload
	}{
		{"unknown type", Upload{DocumentType: "ktp", FileName: "a.pdf", MimeType: "application/pdf", Size: 10}},
		{"bad mime", Upload{DocumentType: model.DocKartuKeluarga, FileName: "a.gif", MimeType: "image/gif", Size: 10}},
		{"oversize", Upload{DocumentType: model.DocKartuKeluarga, FileName: "a.pdf", MimeType: "application/pdf", Size: maxDocumentSize + 1}},
		{"empty", Upload{DocumentType: model.DocKartuKeluarga, FileName: "a.pdf", MimeType: "application/pdf", Size: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.up.Content = strings.NewReader("x")
			_, err := f.svc.AttachDocument(ctx, scope, r.ID, tc.up)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Fatalf("kind = %v, want Validation", apperr.KindOf(err))
			}
		})
	}
}

func TestAttachReplacesSameDocumentType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")
	r, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.attach(t, scope, r.ID, model.DocKartuKeluarga)
	f.attach(t, scope, r.ID, model.DocKartuKeluarga)

	docs, err := f.svc.Documents(ctx, scope, r.ID)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("live documents = %d, want 1 after replacement", len(docs))
	}
}

func TestAttachRefusedAfterSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")
	r, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.attachRequired(t, scope, r.ID)
	if _, err := f.svc.Submit(ctx, scope, r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The document set freezes at submission; even a same-type replacement
	// of an already attached document is refused.
	_, err = f.svc.AttachDocument(ctx, scope, r.ID, Upload{
		DocumentType: model.DocKartuKeluarga, FileName: "kk2.pdf", MimeType: "application/pdf",
		Size: 10, Content: strings.NewReader("x"),
	})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("replace after submit: kind = %v, want Conflict", apperr.KindOf(err))
	}
	_, err = f.svc.AttachDocument(ctx, scope, r.ID, Upload{
		DocumentType: model.DocIjazah, FileName: "i.pdf", MimeType: "application/pdf",
		Size: 10, Content: strings.NewReader("x"),
	})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("attach after submit: kind = %v, want Conflict", apperr.KindOf(err))
	}
	docs, err := f.store.ListDocuments(ctx, scope, r.ID)
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	for _, d := range docs {
		if d.FileName == "kk2.pdf" || d.FileName == "i.pdf" {
			t.Fatalf("document %q attached after submission", d.FileName)
		}
	}
}

func TestDetachDocumentOnlyFromDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")
	r, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	doc := f.attach(t, scope, r.ID, model.DocPasFoto)

	if err := f.svc.DetachDocument(ctx, scope, r.ID, doc.ID); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, ok := f.blobs.blobs[doc.FileURL]; ok {
		t.Fatal("blob must be removed on detach")
	}

	f.attachRequired(t, scope, r.ID)
	kept := f.attach(t, scope, r.ID, model.DocPasFoto)
	if _, err := f.svc.Submit(ctx, scope, r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.DetachDocument(ctx, scope, r.ID, kept.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("detach after submit: kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestEnrollBeforeDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")
	r, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.attachRequired(t, scope, r.ID)
	if _, err := f.svc.Submit(ctx, scope, r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.store.TransitionStatus(ctx, f.admin, r.ID,
		model.StatusSubmitted, model.StatusVerified, "", &f.admin.UserID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.store.TransitionStatus(ctx, f.admin, r.ID,
		model.StatusVerified, model.StatusAccepted, "", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	enrolled, err := f.svc.Enroll(ctx, scope, r.ID)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if enrolled.Status != model.StatusEnrolled {
		t.Fatalf("status = %s, want enrolled", enrolled.Status)
	}
}

func TestEnrollAfterDeadlineConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := f.parent(t, "p@example.com")
	r, err := f.svc.Create(ctx, scope, validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.attachRequired(t, scope, r.ID)
	if _, err := f.svc.Submit(ctx, scope, r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.store.TransitionStatus(ctx, f.admin, r.ID,
		model.StatusSubmitted, model.StatusVerified, "", &f.admin.UserID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.store.TransitionStatus(ctx, f.admin, r.ID,
		model.StatusVerified, model.StatusAccepted, "", nil); err != nil {
		t.Fatalf("accept: %v", err)
	}

	f.svc.now = func() time.Time { return f.period.ReenrollmentDeadline.Add(time.Hour) }
	if _, err := f.svc.Enroll(ctx, scope, r.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("late enroll: kind = %v, want Conflict", apperr.KindOf(err))
	}

	// The sweeper then expires it.
	n, err := f.svc.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
}

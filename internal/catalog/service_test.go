package catalog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/auth"
	"github.com/ppdb-id/ppdb-backend/internal/db"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

type fastHasher struct{}

func (fastHasher) Hash(p string) (string, error) { return "hash:" + p, nil }
func (fastHasher) Compare(h, p string) bool      { return h == "hash:"+p }

func newTestService(t *testing.T) (*Service, *store.Store) {
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
	return NewService(st, fastHasher{}, audit.NewRecorder(st, log), log), st
}

func superScope() store.Scope {
	return store.Scope{Principal: auth.Principal{UserID: 1, Role: model.RoleSuperAdmin}}
}

func adminScope(schoolID int64) store.Scope {
	return store.Scope{Principal: auth.Principal{UserID: 2, Role: model.RoleSchoolAdmin, SchoolID: &schoolID}}
}

func seedSchool(t *testing.T, svc *Service) *model.School {
	t.Helper()
	sc, err := svc.CreateSchool(context.Background(), superScope(), SchoolInput{
		Name: "SMA Negeri 1", NPSN: "10000001", Code: "SMAN1",
	})
	if err != nil {
		t.Fatalf("seed school: %v", err)
	}
	return sc
}

func periodInput(schoolID int64) PeriodInput {
	now := time.Now()
	return PeriodInput{
		SchoolID:             schoolID,
		AcademicYear:         "2026/2027",
		Level:                model.LevelSMA,
		StartDate:            now.Add(35 * 24 * time.Hour),
		EndDate:              now.Add(120 * 24 * time.Hour),
		RegistrationStart:    now,
		RegistrationEnd:      now.Add(30 * 24 * time.Hour),
		ReenrollmentDeadline: now.Add(45 * 24 * time.Hour),
	}
}

func seedPeriod(t *testing.T, svc *Service, schoolID int64) *model.Period {
	t.Helper()
	p, err := svc.CreatePeriod(context.Background(), superScope(), periodInput(schoolID))
	if err != nil {
		t.Fatalf("seed period: %v", err)
	}
	return p
}

func zonasiInput(quota int) PathInput {
	return PathInput{
		PathType:      model.PathZonasi,
		Name:          "Zonasi",
		Quota:         quota,
		ScoringConfig: []byte(`{"max_distance_km":5,"weight":1}`),
	}
}

func TestCreateSchoolValidatesNPSN(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateSchool(context.Background(), superScope(), SchoolInput{
		Name: "SMA", NPSN: "123", Code: "X",
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("kind = %v, want Validation", apperr.KindOf(err))
	}
}

func TestCreateSchoolDuplicateNPSN(t *testing.T) {
	svc, _ := newTestService(t)
	seedSchool(t, svc)
	_, err := svc.CreateSchool(context.Background(), superScope(), SchoolInput{
		Name: "SMA Lain", NPSN: "10000001", Code: "LAIN",
	})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestPeriodDateOrdering(t *testing.T) {
	svc, _ := newTestService(t)
	sc := seedSchool(t, svc)
	in := periodInput(sc.ID)
	in.ReenrollmentDeadline = in.RegistrationEnd.Add(-time.Hour)
	_, err := svc.CreatePeriod(context.Background(), superScope(), in)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("kind = %v, want Validation", apperr.KindOf(err))
	}

	// The registration window may not extend past the academic start.
	in = periodInput(sc.ID)
	in.RegistrationEnd = in.StartDate.Add(time.Hour)
	in.ReenrollmentDeadline = in.RegistrationEnd.Add(30 * 24 * time.Hour)
	_, err = svc.CreatePeriod(context.Background(), superScope(), in)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("late window: kind = %v, want Validation", apperr.KindOf(err))
	}

	// Closing registration exactly at the academic start is fine.
	in = periodInput(sc.ID)
	in.RegistrationEnd = in.StartDate
	if _, err := svc.CreatePeriod(context.Background(), superScope(), in); err != nil {
		t.Fatalf("window ending at start_date: %v", err)
	}
}

func TestPathQuotaBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sc := seedSchool(t, svc)
	p := seedPeriod(t, svc, sc.ID)

	// A closed path with quota zero is allowed.
	path, err := svc.CreatePath(ctx, superScope(), p.ID, zonasiInput(0))
	if err != nil {
		t.Fatalf("zero quota: %v", err)
	}
	if path.Quota != 0 {
		t.Fatalf("quota = %d, want 0", path.Quota)
	}

	if _, err := svc.CreatePath(ctx, superScope(), p.ID, zonasiInput(-1)); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("negative quota: kind = %v, want Validation", apperr.KindOf(err))
	}
	if _, err := svc.UpdatePath(ctx, superScope(), path.ID, zonasiInput(-1)); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("negative update: kind = %v, want Validation", apperr.KindOf(err))
	}
}

func TestActivatePeriodClosesPrevious(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sc := seedSchool(t, svc)
	first := seedPeriod(t, svc, sc.ID)
	second := seedPeriod(t, svc, sc.ID)

	if err := svc.ActivatePeriod(ctx, superScope(), first.ID); err != nil {
		t.Fatalf("activate first: %v", err)
	}
	if err := svc.ActivatePeriod(ctx, superScope(), second.ID); err != nil {
		t.Fatalf("activate second: %v", err)
	}

	got, err := svc.GetPeriod(ctx, superScope(), first.ID)
	if err != nil {
		t.Fatalf("reload first: %v", err)
	}
	if got.Status != model.PeriodClosed {
		t.Errorf("first period status = %s, want closed", got.Status)
	}
	got, err = svc.GetPeriod(ctx, superScope(), second.ID)
	if err != nil {
		t.Fatalf("reload second: %v", err)
	}
	if got.Status != model.PeriodActive {
		t.Errorf("second period status = %s, want active", got.Status)
	}

	// Re-activating the live period is a no-op.
	if err := svc.ActivatePeriod(ctx, superScope(), second.ID); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
}

func TestDeletePeriodWithSubmissionsConflicts(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sc := seedSchool(t, svc)
	p := seedPeriod(t, svc, sc.ID)
	path, err := svc.CreatePath(ctx, superScope(), p.ID, zonasiInput(10))
	if err != nil {
		t.Fatalf("create path: %v", err)
	}

	u := &model.User{Email: "p@example.com", PasswordHash: "x", FullName: "P", Role: model.RoleParent, EmailVerified: true}
	if err := st.CreateUser(ctx, store.SystemScope(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	pScope := store.Scope{Principal: auth.Principal{UserID: u.ID, Role: model.RoleParent}}
	r := &model.Registration{
		SchoolID: sc.ID, UserID: u.ID, PeriodID: p.ID, PathID: path.ID,
		StudentNISN: "0012345678", StudentName: "Siswa",
		StudentBirthDate: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := st.CreateRegistration(ctx, pScope, r); err != nil {
		t.Fatalf("seed registration: %v", err)
	}

	// A draft alone does not block deletion; a submission does.
	if err := st.MarkSubmitted(ctx, pScope, r.ID, "REG-1-1-00001", time.Now()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.DeletePeriod(ctx, superScope(), p.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestUpdatePathQuotaCannotDropBelowAccepted(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sc := seedSchool(t, svc)
	p := seedPeriod(t, svc, sc.ID)
	path, err := svc.CreatePath(ctx, superScope(), p.ID, zonasiInput(3))
	if err != nil {
		t.Fatalf("create path: %v", err)
	}

	admin := adminScope(sc.ID)
	for i := 0; i < 2; i++ {
		u := &model.User{
			Email: "p" + strings.Repeat("x", i+1) + "@example.com", PasswordHash: "x",
			FullName: "P", Role: model.RoleParent, EmailVerified: true,
		}
		if err := st.CreateUser(ctx, store.SystemScope(), u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
		pScope := store.Scope{Principal: auth.Principal{UserID: u.ID, Role: model.RoleParent}}
		r := &model.Registration{
			SchoolID: sc.ID, UserID: u.ID, PeriodID: p.ID, PathID: path.ID,
			StudentNISN: "0012345678", StudentName: "Siswa",
			StudentBirthDate: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := st.CreateRegistration(ctx, pScope, r); err != nil {
			t.Fatalf("seed registration: %v", err)
		}
		if err := st.MarkSubmitted(ctx, pScope, r.ID, "REG-X-00"+strings.Repeat("0", i)+"1", time.Now()); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := st.TransitionStatus(ctx, admin, r.ID, model.StatusSubmitted, model.StatusVerified, "", &admin.UserID); err != nil {
			t.Fatalf("verify: %v", err)
		}
		if err := st.TransitionStatus(ctx, admin, r.ID, model.StatusVerified, model.StatusAccepted, "", nil); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}

	in := zonasiInput(1) // below the two accepted
	if _, err := svc.UpdatePath(ctx, superScope(), path.ID, in); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want Conflict", apperr.KindOf(err))
	}
	in = zonasiInput(2) // exactly the accepted count is fine
	if _, err := svc.UpdatePath(ctx, superScope(), path.ID, in); err != nil {
		t.Fatalf("shrink to accepted count: %v", err)
	}
}

func TestDeletePathWithRegistrationsConflicts(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sc := seedSchool(t, svc)
	p := seedPeriod(t, svc, sc.ID)
	path, err := svc.CreatePath(ctx, superScope(), p.ID, zonasiInput(5))
	if err != nil {
		t.Fatalf("create path: %v", err)
	}

	u := &model.User{Email: "p@example.com", PasswordHash: "x", FullName: "P", Role: model.RoleParent, EmailVerified: true}
	if err := st.CreateUser(ctx, store.SystemScope(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	pScope := store.Scope{Principal: auth.Principal{UserID: u.ID, Role: model.RoleParent}}
	r := &model.Registration{
		SchoolID: sc.ID, UserID: u.ID, PeriodID: p.ID, PathID: path.ID,
		StudentNISN: "0012345678", StudentName: "Siswa",
		StudentBirthDate: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := st.CreateRegistration(ctx, pScope, r); err != nil {
		t.Fatalf("seed registration: %v", err)
	}

	// Even a draft counts: the applicant chose this path.
	if err := svc.DeletePath(ctx, superScope(), path.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestCreateUserRoleRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sc := seedSchool(t, svc)
	admin := adminScope(sc.ID)

	// A school admin cannot mint a platform administrator.
	_, err := svc.CreateUser(ctx, admin, UserInput{
		Email: "root@example.com", Password: "password123", FullName: "Root", Role: model.RoleSuperAdmin,
	})
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("kind = %v, want Forbidden", apperr.KindOf(err))
	}

	// A school admin needs a tenant.
	_, err = svc.CreateUser(ctx, superScope(), UserInput{
		Email: "staff@example.com", Password: "password123", FullName: "Staff", Role: model.RoleSchoolAdmin,
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("kind = %v, want Validation", apperr.KindOf(err))
	}

	// Provisioned accounts skip email verification.
	u, err := svc.CreateUser(ctx, superScope(), UserInput{
		Email: "staff@example.com", Password: "password123", FullName: "Staff",
		Role: model.RoleSchoolAdmin, SchoolID: &sc.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !u.EmailVerified {
		t.Fatal("provisioned accounts must be verified")
	}
}

func TestDeleteLastSchoolAdminConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sc := seedSchool(t, svc)
	only, err := svc.CreateUser(ctx, superScope(), UserInput{
		Email: "admin@example.com", Password: "password123", FullName: "Admin",
		Role: model.RoleSchoolAdmin, SchoolID: &sc.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.DeleteUser(ctx, superScope(), only.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want Conflict", apperr.KindOf(err))
	}

	second, err := svc.CreateUser(ctx, superScope(), UserInput{
		Email: "admin2@example.com", Password: "password123", FullName: "Admin 2",
		Role: model.RoleSchoolAdmin, SchoolID: &sc.ID,
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := svc.DeleteUser(ctx, superScope(), second.ID); err != nil {
		t.Fatalf("delete with a remaining admin: %v", err)
	}
}

func TestChangePasswordChecksCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sc := seedSchool(t, svc)
	u, err := svc.CreateUser(ctx, superScope(), UserInput{
		Email: "admin@example.com", Password: "password123", FullName: "Admin",
		Role: model.RoleSchoolAdmin, SchoolID: &sc.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	self := store.Scope{Principal: auth.Principal{UserID: u.ID, Role: u.Role, SchoolID: u.SchoolID}}

	if err := svc.ChangePassword(ctx, self, "wrong", "new-password-1"); !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("kind = %v, want Unauthorized", apperr.KindOf(err))
	}
	if err := svc.ChangePassword(ctx, self, "password123", "short"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("kind = %v, want Validation", apperr.KindOf(err))
	}
	if err := svc.ChangePassword(ctx, self, "password123", "new-password-1"); err != nil {
		t.Fatalf("change: %v", err)
	}
}

package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ppdb-id/ppdb-backend/internal/auth"
	"github.com/ppdb-id/ppdb-backend/internal/db"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

func TestRequireActiveSchool(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	d, err := db.Open(ctx, db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	st := store.New(d, db.DriverSQLite)

	active := &model.School{Name: "SMA 1", NPSN: "10000001", Code: "SMA1"}
	if err := st.CreateSchool(ctx, store.SystemScope(), active); err != nil {
		t.Fatalf("seed school: %v", err)
	}
	suspended := &model.School{Name: "SMA 2", NPSN: "10000002", Code: "SMA2"}
	if err := st.CreateSchool(ctx, store.SystemScope(), suspended); err != nil {
		t.Fatalf("seed school: %v", err)
	}
	if err := st.SetSchoolStatus(ctx, store.SystemScope(), suspended.ID, model.SchoolSuspended); err != nil {
		t.Fatalf("suspend school: %v", err)
	}

	srv := &Server{store: st}
	h := srv.requireActiveSchool(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(method string, p *auth.Principal) int {
		req := httptest.NewRequest(method, "/api/v1/periods", nil)
		if p != nil {
			req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	adminOf := func(schoolID int64) *auth.Principal {
		return &auth.Principal{UserID: 1, Role: model.RoleSchoolAdmin, SchoolID: &schoolID}
	}

	if code := do(http.MethodPost, adminOf(active.ID)); code != http.StatusNoContent {
		t.Fatalf("active school write = %d, want 204", code)
	}
	if code := do(http.MethodPost, adminOf(suspended.ID)); code != http.StatusForbidden {
		t.Fatalf("suspended school write = %d, want 403", code)
	}
	// Reads stay available while suspended.
	if code := do(http.MethodGet, adminOf(suspended.ID)); code != http.StatusNoContent {
		t.Fatalf("suspended school read = %d, want 204", code)
	}
	// Parents carry no tenant and are never blocked here.
	parent := &auth.Principal{UserID: 2, Role: model.RoleParent}
	if code := do(http.MethodPost, parent); code != http.StatusNoContent {
		t.Fatalf("parent write = %d, want 204", code)
	}
}

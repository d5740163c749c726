package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/catalog"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

/* --------------------------------- schools -------------------------------- */

type schoolBody struct {
	Name    string `json:"name"`
	NPSN    string `json:"npsn"`
	Code    string `json:"code"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

func (b schoolBody) input() catalog.SchoolInput {
	return catalog.SchoolInput{
		Name: b.Name, NPSN: b.NPSN, Code: b.Code,
		Address: b.Address, Phone: b.Phone, Email: b.Email,
	}
}

func (s *Server) handleCreateSchool(w http.ResponseWriter, r *http.Request) {
	var body schoolBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.catalog.CreateSchool(r.Context(), scopeFrom(r), body.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSchoolView(sc))
}

func (s *Server) handleListSchools(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	schools, total, err := s.catalog.ListSchools(r.Context(), scopeFrom(r), store.SchoolFilter{
		Page: page, PageSize: pageSize,
		Search: r.URL.Query().Get("search"),
		Status: model.SchoolStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, toSchoolViews(schools), page, pageSize, total)
}

func (s *Server) handleGetSchool(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.catalog.GetSchool(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchoolView(sc))
}

func (s *Server) handleUpdateSchool(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body schoolBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.catalog.UpdateSchool(r.Context(), scopeFrom(r), id, body.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchoolView(sc))
}

func (s *Server) handleActivateSchool(w http.ResponseWriter, r *http.Request) {
	s.setSchoolStatus(w, r, model.SchoolActive)
}

func (s *Server) handleDeactivateSchool(w http.ResponseWriter, r *http.Request) {
	s.setSchoolStatus(w, r, model.SchoolInactive)
}

func (s *Server) setSchoolStatus(w http.ResponseWriter, r *http.Request, status model.SchoolStatus) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.SetSchoolStatus(r.Context(), scopeFrom(r), id, status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

/* ---------------------------------- users --------------------------------- */

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
		NIK      string `json:"nik"`
		Role     string `json:"role"`
		SchoolID *int64 `json:"school_id"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	u, err := s.catalog.CreateUser(r.Context(), scopeFrom(r), catalog.UserInput{
		Email: body.Email, Password: body.Password, FullName: body.FullName,
		Phone: body.Phone, NIK: body.NIK,
		Role: model.Role(body.Role), SchoolID: body.SchoolID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserView(u))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	users, total, err := s.catalog.ListUsers(r.Context(), scopeFrom(r), store.UserFilter{
		Page: page, PageSize: pageSize,
		Search: r.URL.Query().Get("search"),
		Role:   model.Role(r.URL.Query().Get("role")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, toUserViews(users), page, pageSize, total)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	u, err := s.catalog.GetUser(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(u))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
		NIK      string `json:"nik"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	u, err := s.catalog.UpdateProfile(r.Context(), scopeFrom(r), id, body.FullName, body.Phone, body.NIK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(u))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.DeleteUser(r.Context(), scopeFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* --------------------------------- periods -------------------------------- */

type periodBody struct {
	SchoolID             int64     `json:"school_id"`
	AcademicYear         string    `json:"academic_year"`
	Level                string    `json:"level"`
	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	RegistrationStart    time.Time `json:"registration_start"`
	RegistrationEnd      time.Time `json:"registration_end"`
	ReenrollmentDeadline time.Time `json:"reenrollment_deadline"`
}

func (b periodBody) input(scope store.Scope) catalog.PeriodInput {
	schoolID := b.SchoolID
	if schoolID == 0 {
		schoolID = scope.Tenant()
	}
	return catalog.PeriodInput{
		SchoolID:             schoolID,
		AcademicYear:         b.AcademicYear,
		Level:                model.Level(b.Level),
		StartDate:            b.StartDate,
		EndDate:              b.EndDate,
		RegistrationStart:    b.RegistrationStart,
		RegistrationEnd:      b.RegistrationEnd,
		ReenrollmentDeadline: b.ReenrollmentDeadline,
	}
}

func (s *Server) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	var body periodBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	scope := scopeFrom(r)
	p, err := s.catalog.CreatePeriod(r.Context(), scope, body.input(scope))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodView(p))
}

func (s *Server) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	periods, total, err := s.catalog.ListPeriods(r.Context(), scopeFrom(r), store.PeriodFilter{
		Page: page, PageSize: pageSize,
		Status:       model.PeriodStatus(r.URL.Query().Get("status")),
		AcademicYear: r.URL.Query().Get("academic_year"),
		Level:        model.Level(r.URL.Query().Get("level")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, toPeriodViews(periods), page, pageSize, total)
}

func (s *Server) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.catalog.GetPeriod(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodView(p))
}

func (s *Server) handleUpdatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body periodBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	scope := scopeFrom(r)
	p, err := s.catalog.UpdatePeriodDates(r.Context(), scope, id, body.input(scope))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodView(p))
}

func (s *Server) handleActivatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.ActivatePeriod(r.Context(), scopeFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.PeriodActive)})
}

func (s *Server) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.ClosePeriod(r.Context(), scopeFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.PeriodClosed)})
}

func (s *Server) handleDeletePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.DeletePeriod(r.Context(), scopeFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ---------------------------------- paths --------------------------------- */

type pathBody struct {
	PathType      string          `json:"path_type"`
	Name          string          `json:"name"`
	Quota         int             `json:"quota"`
	Description   string          `json:"description"`
	ScoringConfig json.RawMessage `json:"scoring_config"`
}

func (s *Server) handleCreatePath(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body pathBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.catalog.CreatePath(r.Context(), scopeFrom(r), periodID, catalog.PathInput{
		PathType: model.PathType(body.PathType), Name: body.Name,
		Quota: body.Quota, Description: body.Description,
		ScoringConfig: body.ScoringConfig,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPathView(p))
}

func (s *Server) handleListPaths(w http.ResponseWriter, r *http.Request) {
	periodID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	paths, err := s.catalog.ListPaths(r.Context(), scopeFrom(r), periodID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": toPathViews(paths)})
}

func (s *Server) handleGetPath(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.catalog.GetPath(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPathView(p))
}

func (s *Server) handleUpdatePath(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body pathBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.catalog.UpdatePath(r.Context(), scopeFrom(r), id, catalog.PathInput{
		Name: body.Name, Quota: body.Quota, Description: body.Description,
		ScoringConfig: body.ScoringConfig,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPathView(p))
}

func (s *Server) handleDeletePath(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.DeletePath(r.Context(), scopeFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ---------------------------------- audit --------------------------------- */

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	entityID, _ := strconv.ParseInt(r.URL.Query().Get("entity_id"), 10, 64)
	entries, total, err := s.store.ListAudit(r.Context(), scopeFrom(r), store.AuditFilter{
		Page: page, PageSize: pageSize,
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   entityID,
		Action:     model.AuditAction(r.URL.Query().Get("action")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, toAuditViews(entries), page, pageSize, total)
}

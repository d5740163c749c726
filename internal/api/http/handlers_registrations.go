package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/registration"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

type registrationBody struct {
	PeriodID int64 `json:"period_id"`
	PathID   int64 `json:"path_id"`

	StudentNISN       string    `json:"student_nisn"`
	StudentName       string    `json:"student_name"`
	StudentGender     string    `json:"student_gender"`
	StudentBirthPlace string    `json:"student_birth_place"`
	StudentBirthDate  time.Time `json:"student_birth_date"`
	StudentReligion   string    `json:"student_religion"`
	StudentAddress    string    `json:"student_address"`
	StudentPhone      string    `json:"student_phone"`
	StudentEmail      string    `json:"student_email"`

	ParentName       string `json:"parent_name"`
	ParentNIK        string `json:"parent_nik"`
	ParentPhone      string `json:"parent_phone"`
	ParentOccupation string `json:"parent_occupation"`
	ParentIncome     string `json:"parent_income"`

	PreviousSchoolName    string `json:"previous_school_name"`
	PreviousSchoolNPSN    string `json:"previous_school_npsn"`
	PreviousSchoolAddress string `json:"previous_school_address"`

	PathData json.RawMessage `json:"path_data"`
}

func (b registrationBody) input() registration.Input {
	return registration.Input{
		PeriodID: b.PeriodID, PathID: b.PathID,
		StudentNISN: b.StudentNISN, StudentName: b.StudentName,
		StudentGender: b.StudentGender, StudentBirthPlace: b.StudentBirthPlace,
		StudentBirthDate: b.StudentBirthDate, StudentReligion: b.StudentReligion,
		StudentAddress: b.StudentAddress, StudentPhone: b.StudentPhone,
		StudentEmail: b.StudentEmail,
		ParentName:   b.ParentName, ParentNIK: b.ParentNIK, ParentPhone: b.ParentPhone,
		ParentOccupation: b.ParentOccupation, ParentIncome: b.ParentIncome,
		PreviousSchoolName: b.PreviousSchoolName, PreviousSchoolNPSN: b.PreviousSchoolNPSN,
		PreviousSchoolAddress: b.PreviousSchoolAddress,
		PathData:              b.PathData,
	}
}

func (s *Server) handleCreateRegistration(w http.ResponseWriter, r *http.Request) {
	var body registrationBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	reg, err := s.registrations.Create(r.Context(), scopeFrom(r), body.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationView(reg))
}

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	q := r.URL.Query()
	periodID, _ := parseID(q.Get("period_id"))
	pID, _ := parseID(q.Get("path_id"))
	regs, total, err := s.registrations.List(r.Context(), scopeFrom(r), store.RegistrationFilter{
		Page: page, PageSize: pageSize,
		PeriodID: periodID,
		PathID:   pID,
		Status:   model.RegistrationStatus(q.Get("status")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, toRegistrationViews(regs), page, pageSize, total)
}

func (s *Server) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := s.registrations.Get(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationView(reg))
}

func (s *Server) handleUpdateRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body registrationBody
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	reg, err := s.registrations.Update(r.Context(), scopeFrom(r), id, body.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationView(reg))
}

func (s *Server) handleSubmitRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := s.registrations.Submit(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationView(reg))
}

func (s *Server) handleEnrollRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	reg, err := s.registrations.Enroll(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationView(reg))
}

/* -------------------------------- documents ------------------------------- */

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := s.registrations.Documents(r.Context(), scopeFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": toDocumentViews(docs)})
}

// handleAttachDocument accepts a multipart form with a "file" part and a
// "document_type" field.
func (s *Server) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		writeError(w, apperr.BadRequest("invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.BadRequest("missing file part"))
		return
	}
	defer file.Close()

	doc, err := s.registrations.AttachDocument(r.Context(), scopeFrom(r), id, registration.Upload{
		DocumentType: model.DocumentType(r.FormValue("document_type")),
		FileName:     header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Size:         header.Size,
		Content:      file,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentView(doc))
}

func (s *Server) handleDetachDocument(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	docID, err := pathID(r, "docID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registrations.DetachDocument(r.Context(), scopeFrom(r), id, docID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

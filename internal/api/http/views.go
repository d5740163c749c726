package httpapi

import (
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/model"
)

// Wire views. The persistence models stay JSON-free; everything the API
// returns goes through one of these.

type schoolView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	NPSN      string    `json:"npsn"`
	Code      string    `json:"code"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toSchoolView(s *model.School) schoolView {
	return schoolView{
		ID: s.ID, Name: s.Name, NPSN: s.NPSN, Code: s.Code,
		Address: s.Address, Phone: s.Phone, Email: s.Email,
		Status: string(s.Status), CreatedAt: s.CreatedAt,
	}
}

func toSchoolViews(in []model.School) []schoolView {
	out := make([]schoolView, len(in))
	for i := range in {
		out[i] = toSchoolView(&in[i])
	}
	return out
}

type userView struct {
	ID            int64      `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	Phone         string     `json:"phone,omitempty"`
	NIK           string     `json:"nik,omitempty"`
	Role          string     `json:"role"`
	SchoolID      *int64     `json:"school_id,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toUserView(u *model.User) userView {
	return userView{
		ID: u.ID, Email: u.Email, FullName: u.FullName, Phone: u.Phone, NIK: u.NIK,
		Role: string(u.Role), SchoolID: u.SchoolID, EmailVerified: u.EmailVerified,
		LastLoginAt: u.LastLoginAt, CreatedAt: u.CreatedAt,
	}
}

func toUserViews(in []model.User) []userView {
	out := make([]userView, len(in))
	for i := range in {
		out[i] = toUserView(&in[i])
	}
	return out
}

type periodView struct {
	ID                   int64      `json:"id"`
	SchoolID             int64      `json:"school_id"`
	AcademicYear         string     `json:"academic_year"`
	Level                string     `json:"level"`
	StartDate            time.Time  `json:"start_date"`
	EndDate              time.Time  `json:"end_date"`
	RegistrationStart    time.Time  `json:"registration_start"`
	RegistrationEnd      time.Time  `json:"registration_end"`
	AnnouncementDate     *time.Time `json:"announcement_date,omitempty"`
	ReenrollmentDeadline time.Time  `json:"reenrollment_deadline"`
	Status               string     `json:"status"`
}

func toPeriodView(p *model.Period) periodView {
	return periodView{
		ID: p.ID, SchoolID: p.SchoolID, AcademicYear: p.AcademicYear, Level: string(p.Level),
		StartDate: p.StartDate, EndDate: p.EndDate,
		RegistrationStart: p.RegistrationStart, RegistrationEnd: p.RegistrationEnd,
		AnnouncementDate: p.AnnouncementDate, ReenrollmentDeadline: p.ReenrollmentDeadline,
		Status: string(p.Status),
	}
}

func toPeriodViews(in []model.Period) []periodView {
	out := make([]periodView, len(in))
	for i := range in {
		out[i] = toPeriodView(&in[i])
	}
	return out
}

type pathView struct {
	ID            int64               `json:"id"`
	PeriodID      int64               `json:"period_id"`
	PathType      string              `json:"path_type"`
	Name          string              `json:"name"`
	Quota         int                 `json:"quota"`
	Description   string              `json:"description,omitempty"`
	ScoringConfig model.ScoringConfig `json:"scoring_config"`
}

func toPathView(p *model.RegistrationPath) pathView {
	return pathView{
		ID: p.ID, PeriodID: p.PeriodID, PathType: string(p.PathType), Name: p.Name,
		Quota: p.Quota, Description: p.Description, ScoringConfig: p.ScoringConfig,
	}
}

func toPathViews(in []model.RegistrationPath) []pathView {
	out := make([]pathView, len(in))
	for i := range in {
		out[i] = toPathView(&in[i])
	}
	return out
}

type registrationView struct {
	ID                 int64  `json:"id"`
	SchoolID           int64  `json:"school_id"`
	PeriodID           int64  `json:"period_id"`
	PathID             int64  `json:"path_id"`
	RegistrationNumber string `json:"registration_number,omitempty"`

	StudentNISN       string    `json:"student_nisn"`
	StudentName       string    `json:"student_name"`
	StudentGender     string    `json:"student_gender,omitempty"`
	StudentBirthPlace string    `json:"student_birth_place,omitempty"`
	StudentBirthDate  time.Time `json:"student_birth_date"`
	StudentReligion   string    `json:"student_religion,omitempty"`
	StudentAddress    string    `json:"student_address,omitempty"`
	StudentPhone      string    `json:"student_phone,omitempty"`
	StudentEmail      string    `json:"student_email,omitempty"`

	ParentName       string `json:"parent_name,omitempty"`
	ParentNIK        string `json:"parent_nik,omitempty"`
	ParentPhone      string `json:"parent_phone,omitempty"`
	ParentOccupation string `json:"parent_occupation,omitempty"`
	ParentIncome     string `json:"parent_income,omitempty"`

	PreviousSchoolName    string `json:"previous_school_name,omitempty"`
	PreviousSchoolNPSN    string `json:"previous_school_npsn,omitempty"`
	PreviousSchoolAddress string `json:"previous_school_address,omitempty"`

	PathData        model.PathData `json:"path_data"`
	SelectionScore  *float64       `json:"selection_score,omitempty"`
	Ranking         *int           `json:"ranking,omitempty"`
	Status          string         `json:"status"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	SubmittedAt     *time.Time     `json:"submitted_at,omitempty"`
	VerifiedAt      *time.Time     `json:"verified_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func toRegistrationView(r *model.Registration) registrationView {
	return registrationView{
		ID: r.ID, SchoolID: r.SchoolID, PeriodID: r.PeriodID, PathID: r.PathID,
		RegistrationNumber:    r.RegistrationNumber,
		StudentNISN:           r.StudentNISN,
		StudentName:           r.StudentName,
		StudentGender:         r.StudentGender,
		StudentBirthPlace:     r.StudentBirthPlace,
		StudentBirthDate:      r.StudentBirthDate,
		StudentReligion:       r.StudentReligion,
		StudentAddress:        r.StudentAddress,
		StudentPhone:          r.StudentPhone,
		StudentEmail:          r.StudentEmail,
		ParentName:            r.ParentName,
		ParentNIK:             r.ParentNIK,
		ParentPhone:           r.ParentPhone,
		ParentOccupation:      r.ParentOccupation,
		ParentIncome:          r.ParentIncome,
		PreviousSchoolName:    r.PreviousSchoolName,
		PreviousSchoolNPSN:    r.PreviousSchoolNPSN,
		PreviousSchoolAddress: r.PreviousSchoolAddress,
		PathData:              r.PathData,
		SelectionScore:        r.SelectionScore,
		Ranking:               r.Ranking,
		Status:                string(r.Status),
		RejectionReason:       r.RejectionReason,
		SubmittedAt:           r.SubmittedAt,
		VerifiedAt:            r.VerifiedAt,
		CreatedAt:             r.CreatedAt,
	}
}

func toRegistrationViews(in []model.Registration) []registrationView {
	out := make([]registrationView, len(in))
	for i := range in {
		out[i] = toRegistrationView(&in[i])
	}
	return out
}

type documentView struct {
	ID                 int64      `json:"id"`
	RegistrationID     int64      `json:"registration_id"`
	DocumentType       string     `json:"document_type"`
	FileURL            string     `json:"file_url"`
	FileName           string     `json:"file_name"`
	FileSize           int64      `json:"file_size"`
	MimeType           string     `json:"mime_type"`
	VerificationStatus string     `json:"verification_status"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toDocumentView(d *model.Document) documentView {
	return documentView{
		ID: d.ID, RegistrationID: d.RegistrationID, DocumentType: string(d.DocumentType),
		FileURL: d.FileURL, FileName: d.FileName, FileSize: d.FileSize, MimeType: d.MimeType,
		VerificationStatus: string(d.VerificationStatus), RejectionReason: d.RejectionReason,
		VerifiedAt: d.VerifiedAt, CreatedAt: d.CreatedAt,
	}
}

func toDocumentViews(in []model.Document) []documentView {
	out := make([]documentView, len(in))
	for i := range in {
		out[i] = toDocumentView(&in[i])
	}
	return out
}

type auditView struct {
	ID         int64     `json:"id"`
	SchoolID   *int64    `json:"school_id,omitempty"`
	UserID     *int64    `json:"user_id,omitempty"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	Action     string    `json:"action"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAuditViews(in []model.AuditEntry) []auditView {
	out := make([]auditView, len(in))
	for i := range in {
		e := &in[i]
		out[i] = auditView{
			ID: e.ID, SchoolID: e.SchoolID, UserID: e.UserID,
			EntityType: e.EntityType, EntityID: e.EntityID, Action: string(e.Action),
			OldValue: e.OldValue, NewValue: e.NewValue, IPAddress: e.IPAddress,
			CreatedAt: e.CreatedAt,
		}
	}
	return out
}

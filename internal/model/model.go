// Package model holds the persistent entities and the closed enumerations
// that drive the admission workflow.
package model

import "time"

type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleSchoolAdmin Role = "school_admin"
	RoleParent      Role = "parent"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleSchoolAdmin, RoleParent:
		return true
	}
	return false
}

type SchoolStatus string

const (
	SchoolActive    SchoolStatus = "active"
	SchoolInactive  SchoolStatus = "inactive"
	SchoolSuspended SchoolStatus = "suspended"
)

type School struct {
	ID        int64
	Name      string
	NPSN      string // national school identifier, 8 digits, unique
	Code      string // unique short code
	Address   string
	Phone     string
	Email     string
	Status    SchoolStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID                     int64
	Email                  string
	PasswordHash           string
	FullName               string
	Phone                  string
	NIK                    string
	Role                   Role
	SchoolID               *int64 // nil for super_admin, required for school_admin
	EmailVerified          bool
	EmailVerificationToken string
	ResetPasswordToken     string
	ResetPasswordExpires   *time.Time
	LastLoginAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type PeriodStatus string

const (
	PeriodDraft  PeriodStatus = "draft"
	PeriodActive PeriodStatus = "active"
	PeriodClosed PeriodStatus = "closed"
)

type Level string

const (
	LevelSD  Level = "SD"
	LevelSMP Level = "SMP"
	LevelSMA Level = "SMA"
	LevelSMK Level = "SMK"
)

func (l Level) Valid() bool {
	switch l {
	case LevelSD, LevelSMP, LevelSMA, LevelSMK:
		return true
	}
	return false
}

type Period struct {
	ID                   int64
	SchoolID             int64
	AcademicYear         string
	Level                Level
	StartDate            time.Time
	EndDate              time.Time
	RegistrationStart    time.Time
	RegistrationEnd      time.Time
	AnnouncementDate     *time.Time
	ReenrollmentDeadline time.Time
	Status               PeriodStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type RegistrationPath struct {
	ID            int64
	PeriodID      int64
	SchoolID      int64
	PathType      PathType
	Name          string
	Quota         int
	Description   string
	ScoringConfig ScoringConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Registration struct {
	ID                 int64
	SchoolID           int64
	UserID             int64
	PeriodID           int64
	PathID             int64
	RegistrationNumber string // empty until submit, unique when set

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

	PathData        PathData
	SelectionScore  *float64
	Ranking         *int
	Status          RegistrationStatus
	RejectionReason string
	AdminNotes      string
	SubmittedAt     *time.Time
	VerifiedAt      *time.Time
	VerifiedBy      *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

type DocumentType string

const (
	DocKartuKeluarga     DocumentType = "kartu_keluarga"
	DocAktaKelahiran     DocumentType = "akta_kelahiran"
	DocRapor             DocumentType = "rapor"
	DocSertifikat        DocumentType = "sertifikat_prestasi"
	DocSuratAfirmasi     DocumentType = "surat_keterangan_afirmasi"
	DocSuratPindah       DocumentType = "surat_keterangan_pindah"
	DocPasFoto           DocumentType = "pas_foto"
	DocIjazah            DocumentType = "ijazah"
)

func (d DocumentType) Valid() bool {
	switch d {
	case DocKartuKeluarga, DocAktaKelahiran, DocRapor, DocSertifikat,
		DocSuratAfirmasi, DocSuratPindah, DocPasFoto, DocIjazah:
		return true
	}
	return false
}

// RequiredDocuments is the per-path document set that must be attached
// before a registration can be submitted. Prestasi additionally requires at
// least one sertifikat_prestasi, handled alongside this set.
func RequiredDocuments(pt PathType) []DocumentType {
	switch pt {
	case PathZonasi:
		return []DocumentType{DocKartuKeluarga, DocAktaKelahiran}
	case PathPrestasi:
		return []DocumentType{DocKartuKeluarga, DocAktaKelahiran, DocRapor, DocSertifikat}
	case PathAfirmasi:
		return []DocumentType{DocKartuKeluarga, DocAktaKelahiran, DocSuratAfirmasi}
	case PathPerpindahanTugas:
		return []DocumentType{DocKartuKeluarga, DocAktaKelahiran, DocSuratPindah}
	}
	return nil
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

type Document struct {
	ID                 int64
	RegistrationID     int64
	SchoolID           int64
	DocumentType       DocumentType
	FileURL            string
	FileName           string
	FileSize           int64
	MimeType           string
	VerificationStatus VerificationStatus
	RejectionReason    string
	VerifiedBy         *int64
	VerifiedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type AuditAction string

const (
	ActionCreate   AuditAction = "create"
	ActionUpdate   AuditAction = "update"
	ActionDelete   AuditAction = "delete"
	ActionSubmit   AuditAction = "submit"
	ActionVerify   AuditAction = "verify"
	ActionReject   AuditAction = "reject"
	ActionSelect   AuditAction = "select"
	ActionAnnounce AuditAction = "announce"
	ActionEnroll   AuditAction = "enroll"
	ActionLogin    AuditAction = "login"
)

// AuditEntry is append-only; SchoolID is nil for cross-tenant actions and
// UserID is nil for anonymous ones.
type AuditEntry struct {
	ID         int64
	SchoolID   *int64
	UserID     *int64
	EntityType string
	EntityID   int64
	Action     AuditAction
	OldValue   string
	NewValue   string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// FederatedIdentity links a local user to an external identity provider.
// Consumed only by the external-sync collaborator.
type FederatedIdentity struct {
	ID             int64
	UserID         int64
	Provider       string
	ProviderUserID string
	AccessToken    string
	RefreshToken   string
	TokenExpires   *time.Time
	SyncStatus     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Package identity implements account lifecycle and session issuance:
// self-service signup for parents, login with JWT pairs, email verification
// and password reset with opaque single-use tokens.
package identity

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/audit"
	"github.com/ppdb-id/ppdb-backend/internal/auth"
	"github.com/ppdb-id/ppdb-backend/internal/model"
	"github.com/ppdb-id/ppdb-backend/internal/notify"
	"github.com/ppdb-id/ppdb-backend/internal/store"
)

var emailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const minPasswordLen = 8

// RevocationSink receives refresh tokens surrendered at logout. Sessions are
// stateless, so revocation is an extension point; the default sink discards.
type RevocationSink interface {
	Revoke(ctx context.Context, refreshToken string) error
}

type discardSink struct{}

func (discardSink) Revoke(context.Context, string) error { return nil }

type Service struct {
	store    *store.Store
	tokens   *auth.TokenService
	hasher   auth.Hasher
	notifier notify.Sink
	auditor  *audit.Recorder
	revoker  RevocationSink
	resetTTL time.Duration
	log      *slog.Logger
}

func NewService(st *store.Store, tokens *auth.TokenService, hasher auth.Hasher,
	notifier notify.Sink, auditor *audit.Recorder, resetTTL time.Duration, log *slog.Logger) *Service {
	return &Service{
		store:    st,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		auditor:  auditor,
		revoker:  discardSink{},
		resetTTL: resetTTL,
		log:      log,
	}
}

// SetRevocationSink installs a revocation backend for surrendered refresh
// tokens.
func (s *Service) SetRevocationSink(r RevocationSink) { s.revoker = r }

// ResolveUser adapts the store for the authentication middleware.
func (s *Service) ResolveUser(ctx context.Context, id int64) (*model.User, error) {
	return s.store.GetUser(ctx, store.SystemScope(), id)
}

type RegisterInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
	NIK      string
}

// Register creates a parent account pending email verification.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	var fields []apperr.FieldError
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if !emailRx.MatchString(in.Email) {
		fields = append(fields, apperr.FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if len(in.Password) < minPasswordLen {
		fields = append(fields, apperr.FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	if strings.TrimSpace(in.FullName) == "" {
		fields = append(fields, apperr.FieldError{Field: "full_name", Message: "is required"})
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid registration", fields...)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:                  in.Email,
		PasswordHash:           hash,
		FullName:               strings.TrimSpace(in.FullName),
		Phone:                  in.Phone,
		NIK:                    in.NIK,
		Role:                   model.RoleParent,
		EmailVerificationToken: uuid.NewString(),
	}
	if err := s.store.CreateUser(ctx, store.SystemScope(), u); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return nil, apperr.Conflict("an account with this email already exists")
		}
		return nil, err
	}

	if err := s.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindEmailVerification,
		Recipient: u.Email,
		Subject:   "Verifikasi email akun PPDB",
		Body:      "Token verifikasi: " + u.EmailVerificationToken,
	}); err != nil {
		s.log.Warn("verification email not sent", "user_id", u.ID, "error", err)
	}
	s.auditor.Record(ctx, model.AuditEntry{
		UserID: &u.ID, EntityType: "user", EntityID: u.ID, Action: model.ActionCreate,
	})
	return u, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login authenticates by email and password. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, nil, apperr.Unauthorized("invalid email or password")
		}
		return nil, nil, err
	}
	if !s.hasher.Compare(u.PasswordHash, password) {
		return nil, nil, apperr.Unauthorized("invalid email or password")
	}
	if !u.EmailVerified {
		return nil, nil, apperr.Forbidden("email address is not verified")
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.TouchLastLogin(ctx, u.ID); err != nil {
		s.log.Warn("last login not recorded", "user_id", u.ID, "error", err)
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: u.SchoolID, UserID: &u.ID,
		EntityType: "user", EntityID: u.ID, Action: model.ActionLogin,
	})
	return u, pair, nil
}

// Refresh exchanges a valid refresh token for a new pair. The user row is
// re-read so role or tenant changes take effect immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, store.SystemScope(), claims.UserID)
	if err != nil {
		return nil, apperr.Unauthorized("invalid or expired token")
	}
	return s.issuePair(u)
}

// Logout surrenders the refresh token to the revocation sink.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if _, err := s.tokens.Parse(refreshToken, auth.TokenRefresh); err != nil {
		return err
	}
	return s.revoker.Revoke(ctx, refreshToken)
}

func (s *Service) issuePair(u *model.User) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(u)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// VerifyEmail consumes a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	u, err := s.store.GetUserByVerificationToken(ctx, token)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.BadRequest("invalid verification token")
		}
		return err
	}
	return s.store.MarkEmailVerified(ctx, u.ID)
}

// ForgotPassword issues a reset token. It reports success regardless of
// whether the email exists, so accounts cannot be enumerated.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	token := uuid.NewString()
	if err := s.store.SetResetToken(ctx, u.ID, token, time.Now().Add(s.resetTTL)); err != nil {
		return err
	}
	if err := s.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindPasswordReset,
		Recipient: u.Email,
		Subject:   "Reset kata sandi akun PPDB",
		Body:      "Token reset: " + token,
	}); err != nil {
		s.log.Warn("reset email not sent", "user_id", u.ID, "error", err)
	}
	return nil
}

// ResetPassword consumes a live reset token and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return apperr.Validation("invalid password",
			apperr.FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	u, err := s.store.GetUserByResetToken(ctx, token)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.BadRequest("invalid or expired reset token")
		}
		return err
	}
	// Rejected at the expiry instant, not only after it.
	if u.ResetPasswordExpires == nil || !time.Now().Before(*u.ResetPasswordExpires) {
		return apperr.BadRequest("invalid or expired reset token")
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.auditor.Record(ctx, model.AuditEntry{
		SchoolID: u.SchoolID, UserID: &u.ID,
		EntityType: "user", EntityID: u.ID, Action: model.ActionUpdate,
		NewValue: "password reset",
	})
	return nil
}

package identity

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

func (s *sinkRecorder) last(kind notify.Kind) *notify.Notification {
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Kind == kind {
			return &s.sent[i]
		}
	}
	return nil
}

// fastHasher keeps the bcrypt cost out of the test path.
type fastHasher struct{}

func (fastHasher) Hash(p string) (string, error) { return "hash:" + p, nil }
func (fastHasher) Compare(h, p string) bool      { return h == "hash:"+p }

func newTestService(t *testing.T) (*Service, *sinkRecorder) {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	d, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	st := store.New(d, db.DriverSQLite)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := &sinkRecorder{}
	tokens := auth.NewTokenService("test-secret", time.Hour, 24*time.Hour)
	svc := NewService(st, tokens, fastHasher{}, sink, audit.NewRecorder(st, log), time.Hour, log)
	return svc, sink
}

func register(t *testing.T, svc *Service, email string) {
	t.Helper()
	_, err := svc.Register(context.Background(), RegisterInput{
		Email: email, Password: "password123", FullName: "Orang Tua",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

// verifyViaToken pulls the verification token out of the captured email.
func verifyViaToken(t *testing.T, svc *Service, sink *sinkRecorder) {
	t.Helper()
	n := sink.last(notify.KindEmailVerification)
	if n == nil {
		t.Fatal("no verification email sent")
	}
	token := strings.TrimPrefix(n.Body, "Token verifikasi: ")
	if err := svc.VerifyEmail(context.Background(), token); err != nil {
		t.Fatalf("verify email: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"bad email", RegisterInput{Email: "not-an-email", Password: "password123", FullName: "X"}},
		{"short password", RegisterInput{Email: "a@example.com", Password: "short", FullName: "X"}},
		{"missing name", RegisterInput{Email: "a@example.com", Password: "password123", FullName: "  "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.in)
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Fatalf("kind = %v, want Validation", apperr.KindOf(err))
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "dup@example.com")
	_, err := svc.Register(context.Background(), RegisterInput{
		Email: "DUP@example.com", Password: "password123", FullName: "Lagi",
	})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	svc, sink := newTestService(t)
	register(t, svc, "parent@example.com")

	_, _, err := svc.Login(context.Background(), "parent@example.com", "password123")
	if !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("unverified login: kind = %v, want Forbidden", apperr.KindOf(err))
	}

	verifyViaToken(t, svc, sink)
	u, pair, err := svc.Login(context.Background(), "parent@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("token pair must be issued")
	}
	if u.LastLoginAt == nil {
		// TouchLastLogin runs after issuance; reload to observe it.
		got, err := svc.ResolveUser(context.Background(), u.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if got.LastLoginAt == nil {
			t.Fatal("last login must be recorded")
		}
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, sink := newTestService(t)
	register(t, svc, "parent@example.com")
	verifyViaToken(t, svc, sink)

	_, _, errUnknown := svc.Login(context.Background(), "nobody@example.com", "password123")
	_, _, errWrongPw := svc.Login(context.Background(), "parent@example.com", "wrong-password")
	if !apperr.IsKind(errUnknown, apperr.KindUnauthorized) || !apperr.IsKind(errWrongPw, apperr.KindUnauthorized) {
		t.Fatal("both failures must be Unauthorized")
	}
	if errUnknown.Error() != errWrongPw.Error() {
		t.Fatal("unknown email and wrong password must read identically")
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	svc, sink := newTestService(t)
	register(t, svc, "parent@example.com")
	verifyViaToken(t, svc, sink)
	_, pair, err := svc.Login(context.Background(), "parent@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	next, err := svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.AccessToken == "" {
		t.Fatal("refresh must issue a new access token")
	}

	// An access token is not accepted as a refresh token.
	if _, err := svc.Refresh(context.Background(), pair.AccessToken); !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("access-as-refresh: kind = %v, want Unauthorized", apperr.KindOf(err))
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, sink := newTestService(t)
	register(t, svc, "parent@example.com")
	verifyViaToken(t, svc, sink)

	// Unknown emails report success without sending anything.
	before := len(sink.sent)
	if err := svc.ForgotPassword(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("forgot for unknown email: %v", err)
	}
	if len(sink.sent) != before {
		t.Fatal("no email may be sent for unknown accounts")
	}

	if err := svc.ForgotPassword(context.Background(), "parent@example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	n := sink.last(notify.KindPasswordReset)
	if n == nil {
		t.Fatal("no reset email sent")
	}
	token := strings.TrimPrefix(n.Body, "Token reset: ")

	if err := svc.ResetPassword(context.Background(), token, "short"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("short password: kind = %v, want Validation", apperr.KindOf(err))
	}
	if err := svc.ResetPassword(context.Background(), token, "new-password-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Old password out, new password in, token single-use.
	if _, _, err := svc.Login(context.Background(), "parent@example.com", "password123"); err == nil {
		t.Fatal("old password must stop working")
	}
	if _, _, err := svc.Login(context.Background(), "parent@example.com", "new-password-1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := svc.ResetPassword(context.Background(), token, "another-pass-1"); !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Fatalf("reused token: kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestResetTokenExpiry(t *testing.T) {
	svc, sink := newTestService(t)
	svc.resetTTL = -time.Minute // already expired when set
	register(t, svc, "parent@example.com")
	verifyViaToken(t, svc, sink)

	if err := svc.ForgotPassword(context.Background(), "parent@example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := strings.TrimPrefix(sink.last(notify.KindPasswordReset).Body, "Token reset: ")
	err := svc.ResetPassword(context.Background(), token, "new-password-1")
	if !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Fatalf("expired token: kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestResetTokenRejectedAtExpiryInstant(t *testing.T) {
	svc, sink := newTestService(t)
	svc.resetTTL = 0 // expiry equals issuance
	register(t, svc, "parent@example.com")
	verifyViaToken(t, svc, sink)

	if err := svc.ForgotPassword(context.Background(), "parent@example.com"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := strings.TrimPrefix(sink.last(notify.KindPasswordReset).Body, "Token reset: ")
	err := svc.ResetPassword(context.Background(), token, "new-password-1")
	if !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Fatalf("token at expiry: kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ppdb-id/ppdb-backend/internal/api/respond"
	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
)

// UserResolver looks the token subject up so the role and tenant in the
// claims are never trusted on their own.
type UserResolver interface {
	ResolveUser(ctx context.Context, id int64) (*model.User, error)
}

// Middleware authenticates the bearer token, re-validates the user, and
// binds the Principal into the request context. 401 on any failure.
func Middleware(tokens *TokenService, users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				respond.Error(w, apperr.Unauthorized("missing bearer token"))
				return
			}
			claims, err := tokens.Parse(strings.TrimPrefix(h, "Bearer "), TokenAccess)
			if err != nil {
				respond.Error(w, apperr.Unauthorized("invalid or expired token"))
				return
			}
			u, err := users.ResolveUser(r.Context(), claims.UserID)
			if err != nil || u == nil {
				respond.Error(w, apperr.Unauthorized("invalid or expired token"))
				return
			}
			p := Principal{UserID: u.ID, Role: u.Role, SchoolID: u.SchoolID}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

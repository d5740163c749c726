// Package auth issues and verifies the bearer tokens consumed by the API
// and carries the authenticated principal through request contexts.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
	"github.com/ppdb-id/ppdb-backend/internal/model"
)

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// Claims embeds role and school for efficiency; both are re-validated
// against the user row on every authenticated request.
type Claims struct {
	UserID    int64      `json:"uid"`
	Role      model.Role `json:"role"`
	SchoolID  *int64     `json:"school_id,omitempty"`
	TokenType string     `json:"type"`
	jwt.RegisteredClaims
}

type TokenService struct {
	hmac       []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{hmac: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (s *TokenService) IssueAccess(u *model.User) (string, error) {
	return s.issue(u, TokenAccess, s.accessTTL)
}

func (s *TokenService) IssueRefresh(u *model.User) (string, error) {
	return s.issue(u, TokenRefresh, s.refreshTTL)
}

func (s *TokenService) issue(u *model.User, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    u.ID,
		Role:      u.Role,
		SchoolID:  u.SchoolID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ppdb-backend",
			Subject:   u.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.hmac)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "sign token", err)
	}
	return signed, nil
}

// Parse verifies signature and expiry and checks the type claim.
func (s *TokenService) Parse(tokenStr, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, apperr.Unauthorized("invalid or expired token")
	}
	c, ok := token.Claims.(*Claims)
	if !ok || c.TokenType != wantType {
		return nil, apperr.Unauthorized("invalid token type")
	}
	return c, nil
}

func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

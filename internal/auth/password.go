package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
)

const bcryptCost = 12

// Hasher is the opaque password-hashing capability. The bcrypt
// implementation is the only one the core ships.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

type BcryptHasher struct{}

func (BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "hash password", err)
	}
	return string(b), nil
}

func (BcryptHasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

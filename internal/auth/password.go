package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// BcryptVerifier checks passwords against bcrypt hashes.
type BcryptVerifier struct{}

// VerifyPassword compares plaintext password with stored hash.
func (BcryptVerifier) VerifyPassword(plain, hash string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// dummyHash is compared against when the username is unknown, so both
// failure paths pay for one bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte("permgate-unknown-user"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
})

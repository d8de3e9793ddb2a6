package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Password length bounds. bcrypt only accepts up to 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

var (
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordTooLong  = fmt.Errorf("password must be at most %d bytes", MaxPasswordLength)
	ErrPasswordEmpty    = errors.New("password cannot be empty")
)

// ValidatePassword checks password against the length bounds.
func ValidatePassword(password string) error {
	switch {
	case password == "":
		return ErrPasswordEmpty
	case len(password) < MinPasswordLength:
		return ErrPasswordTooShort
	case len(password) > MaxPasswordLength:
		return ErrPasswordTooLong
	}
	return nil
}

// dummyHash is compared against when a login names an unknown user so both
// paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("spendbook-dummy-password"), bcrypt.DefaultCost)

// HashPassword returns a salted bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SpendComparison burns one bcrypt comparison without a real hash.
func SpendComparison(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// GenerateSessionToken returns 32 random bytes, hex encoded.
func GenerateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Package auth holds the credentials used to pair controllers and to guard
// the admin API: bcrypt pairing password hashes and HS256 session tokens.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordMismatch = errors.New("password mismatch")

// HashPassword creates a bcrypt hash suitable for PAIRING_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	// higher cost is slower to brute force, DefaultCost (10) keeps pairing instant
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// VerifyPassword checks a plaintext password against a stored bcrypt hash.
func VerifyPassword(hashedPassword, providedPassword string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(providedPassword))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

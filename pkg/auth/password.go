// Package auth covers credentials: password hashing and strength, bearer
// tokens, and the login flow.
package auth

import (
	"errors"

	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

const (
	// HashingMethod is recorded alongside every stored hash so a future
	// algorithm change can tell old hashes apart.
	HashingMethod = "bcrypt"

	// DefaultCost trades login latency for resistance to offline cracking.
	DefaultCost = 12

	// MaxPasswordLength caps input before bcrypt sees it. bcrypt truncates
	// at 72 bytes anyway; the cap also stops oversized bodies from burning
	// CPU.
	MaxPasswordLength = 128

	// MinEntropyBits is the strength floor for new passwords. The validator
	// collapses repeated runs and keyboard sequences before counting, so a
	// short password with a digit suffix like "pw12345" lands just above 20
	// bits. The floor rejects trivially short input without enforcing a
	// passphrase policy.
	MinEntropyBits = 20
)

var (
	ErrPasswordEmpty   = errors.New("password is empty")
	ErrPasswordTooLong = errors.New("password too long")
)

// HashPassword returns the bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrPasswordEmpty
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword reports whether the plaintext matches the stored hash.
// The comparison is constant-time inside bcrypt.
func ComparePassword(hash, password string) error {
	if hash == "" || password == "" {
		return ErrPasswordEmpty
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// ValidateStrength rejects passwords below the entropy floor.
func ValidateStrength(password string) error {
	return passwordvalidator.Validate(password, MinEntropyBits)
}

package service

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password sign-up and admin provisioning
// accept.
const MinPasswordLength = 8

// bcrypt ignores input beyond 72 bytes.
const maxPasswordLength = 72

// ErrWeakPassword is returned for passwords outside the accepted length.
var ErrWeakPassword = errors.New("password must be between 8 and 72 characters")

// HashPassword hashes a plaintext password with bcrypt at the given cost.
// A cost of zero uses bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if err := CheckPassword(password); err != nil {
		return "", err
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored hash.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckPassword validates password length.
func CheckPassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

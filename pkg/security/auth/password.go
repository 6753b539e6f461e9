package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

// ErrInvalidCredentials is returned when a username/password pair does not match.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Legacy scrypt parameters: N=16384, r=8, p=1, 64-byte key.
const (
	legacyN      = 16384
	legacyR      = 8
	legacyP      = 1
	legacyKeyLen = 64
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether supplied matches the stored hash.
// Both bcrypt hashes and legacy "hex.salt" scrypt hashes are accepted.
func VerifyPassword(stored, supplied string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
	return verifyLegacy(stored, supplied)
}

// IsLegacyHash reports whether stored uses the scrypt format.
func IsLegacyHash(stored string) bool {
	return !strings.HasPrefix(stored, "$2") && strings.Count(stored, ".") == 1
}

func verifyLegacy(stored, supplied string) bool {
	hashHex, salt, ok := strings.Cut(stored, ".")
	if !ok || hashHex == "" || salt == "" || strings.Contains(salt, ".") {
		return false
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil || len(want) != legacyKeyLen {
		return false
	}
	got, err := legacyKey(supplied, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}

// The salt is used as its hex text, not the decoded bytes.
func legacyKey(password, salt string) ([]byte, error) {
	return scrypt.Key([]byte(password), []byte(salt), legacyN, legacyR, legacyP, legacyKeyLen)
}

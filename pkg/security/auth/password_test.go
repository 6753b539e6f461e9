package auth

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected a bcrypt hash, got %q", hash)
	}
	if !VerifyPassword(hash, "hunter2") {
		t.Error("expected password to verify")
	}
	if VerifyPassword(hash, "hunter3") {
		t.Error("wrong password verified")
	}
	if IsLegacyHash(hash) {
		t.Error("bcrypt hash reported as legacy")
	}

	if _, err := HashPassword(""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestVerifyPassword_Legacy(t *testing.T) {
	salt := "0123456789abcdef0123456789abcdef"
	key, err := legacyKey("secret", salt)
	if err != nil {
		t.Fatalf("legacyKey: %v", err)
	}
	stored := hex.EncodeToString(key) + "." + salt

	if !IsLegacyHash(stored) {
		t.Error("expected legacy hash to be recognised")
	}
	if !VerifyPassword(stored, "secret") {
		t.Error("expected legacy password to verify")
	}
	if VerifyPassword(stored, "Secret") {
		t.Error("wrong legacy password verified")
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{"empty", ""},
		{"no separator", "abcdef"},
		{"empty hash", ".salt"},
		{"empty salt", "abcdef."},
		{"three parts", "ab.cd.ef"},
		{"not hex", "zz.salt"},
		{"short key", "abcd.salt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyPassword(tt.stored, "anything") {
				t.Errorf("malformed hash %q verified", tt.stored)
			}
		})
	}
}

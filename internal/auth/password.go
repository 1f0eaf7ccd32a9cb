package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// MinPasswordLength is the shortest password accepted for a customer.
const MinPasswordLength = 8

const (
	maxPasswordBytes   = 72 // bcrypt input limit
	minPBKDF2Iter      = 1000
	maxPBKDF2Iter      = 10_000_000
	pbkdf2LegacyFields = 3
)

// ErrWeakPassword is returned by [HashPassword] for passwords that are too
// short or too long to hash.
var ErrWeakPassword = errors.New("password must be 8-72 bytes")

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength || len(password) > maxPasswordBytes {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a stored hash. Bcrypt hashes and
// legacy "iterations:salt_hex:hash_hex" PBKDF2-SHA256 hashes are accepted.
func VerifyPassword(hash, password string) bool {
	hash = strings.TrimSpace(hash)
	switch {
	case hash == "":
		return false
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	default:
		ok, err := verifyPBKDF2(hash, password)
		return err == nil && ok
	}
}

var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("arca-edge-dummy-password"), bcrypt.DefaultCost)
	return h
})

// BurnPasswordCheck spends the same work as a bcrypt verification. Callers
// use it when no credential exists so unknown accounts are not observable
// through response timing.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
}

func verifyPBKDF2(stored, password string) (bool, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != pbkdf2LegacyFields {
		return false, errors.New("unrecognized password hash format")
	}
	iter, err := strconv.Atoi(parts[0])
	if err != nil || iter < minPBKDF2Iter || iter > maxPBKDF2Iter {
		return false, fmt.Errorf("invalid pbkdf2 iteration count %q", parts[0])
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("invalid pbkdf2 salt: %w", err)
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil || len(want) == 0 {
		return false, errors.New("invalid pbkdf2 hash")
	}
	got := pbkdf2.Key([]byte(password), salt, iter, len(want), sha256.New)
	return Equal(got, want), nil
}

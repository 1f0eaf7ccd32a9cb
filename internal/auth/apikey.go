// Package auth provides the constant-time comparator, password hashing, and
// secret generation used by the edge router, directory and CLI.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

const defaultSecretBytes = 32

// GenerateSecret returns a cryptographically random, URL-safe string built
// from n random bytes (32 when n <= 0). Used for session secrets and admin
// keys.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		n = defaultSecretBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// KeyDigest returns the SHA-256 digest of an admin key. Keys are compared by
// digest so both sides of [Equal] always have the same length.
func KeyDigest(key string) [sha256.Size]byte {
	return sha256.Sum256([]byte(key))
}

// AdminKeyMatches compares a presented admin key with the configured one.
// An empty configured key never matches.
func AdminKeyMatches(presented, configured string) bool {
	if strings.TrimSpace(configured) == "" {
		return false
	}
	p := KeyDigest(presented)
	c := KeyDigest(configured)
	return Equal(p[:], c[:])
}

// GenerateCode returns a uniformly random decimal code with the given number
// of digits, zero padded.
func GenerateCode(digits int) (string, error) {
	if digits <= 0 || digits > 12 {
		return "", fmt.Errorf("code length must be 1-12 digits, got %d", digits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

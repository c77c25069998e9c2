// Package crypto provides password hashing and token generation.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the number of random bytes in a password salt.
const SaltSize = 16

var ErrInvalidSalt = errors.New("crypto: invalid salt")

// GenerateToken generates a random token string (32 bytes, hex-encoded).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken hashes a raw token string with SHA-256.
// Used to keep bearer tokens out of logs.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:8])
}

// GenerateSalt returns a fresh hex-encoded salt.
func GenerateSalt() (string, error) {
	b := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashPassword hashes a password with Argon2id and returns it hex-encoded.
func HashPassword(password, salt string) (string, error) {
	raw, err := hex.DecodeString(salt)
	if err != nil || len(raw) == 0 {
		return "", ErrInvalidSalt
	}
	return hex.EncodeToString(argon2.IDKey([]byte(password), raw, 1, 64*1024, 4, 32)), nil
}

// VerifyPassword reports whether password matches the stored hash.
// The comparison runs in constant time.
func VerifyPassword(password, salt, hash string) bool {
	got, err := HashPassword(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

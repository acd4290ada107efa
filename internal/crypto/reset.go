package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const resetSecretLen = 32

// NewResetSecret returns a URL-safe random secret for a password reset link.
func NewResetSecret() (string, error) {
	b, err := RandBytes(resetSecretLen)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashResetSecret returns the hex SHA-256 of secret. Only this digest is
// stored, so it doubles as the lookup key.
func HashResetSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"perch/cmd/security/token"
)

// NewRefreshToken generates an opaque refresh token and its storage hash.
//
// The plaintext is handed to the client exactly once and never persisted;
// only the hash is stored and looked up. Hashing uses HMAC-SHA256 when
// PERCH_TOKEN_HMAC_KEY is configured and plain SHA-256 otherwise.
func NewRefreshToken(cfg Config) (plaintext string, hash string, err error) {
	n := cfg.RefreshTokenBytes
	if n < 32 {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("session: generate refresh token: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, token.HashRefreshTokenHex(plaintext), nil
}

// HashRefreshToken maps a presented refresh token to its storage hash.
func HashRefreshToken(plaintext string) string {
	return token.HashRefreshTokenHex(plaintext)
}

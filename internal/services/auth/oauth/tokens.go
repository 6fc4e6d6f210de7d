package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// grantTokenLength is the entropy in bytes behind authorization codes and
// refresh tokens.
const grantTokenLength = 32

// newGrantToken returns a fresh random grant value.
func newGrantToken() (string, error) {
	bytes := make([]byte, grantTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate grant token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// hashRefreshToken derives the stored form of a refresh token. Only this hash
// is ever persisted; presenting the raw value is the proof of possession.
func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

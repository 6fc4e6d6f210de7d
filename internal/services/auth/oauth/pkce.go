package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// Verifier and challenge length bounds per RFC 7636.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// ComputeS256Challenge derives the S256 code challenge for a verifier.
func ComputeS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidatePKCE checks a code verifier against the stored challenge. Only the
// S256 method is accepted and the comparison is constant-time.
func ValidatePKCE(verifier, challenge, method string) bool {
	if method != "S256" {
		return false
	}
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}
	computed := ComputeS256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidateCodeChallenge checks the challenge format before a pending
// authorization is created.
func ValidateCodeChallenge(challenge string) bool {
	if len(challenge) < minVerifierLength || len(challenge) > maxVerifierLength {
		return false
	}
	for _, c := range challenge {
		if !isBase64URLChar(c) {
			return false
		}
	}
	return true
}

func isBase64URLChar(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}

package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// EphemeralTokenBytes is the entropy of verification and reset tokens (256 bits).
const EphemeralTokenBytes = 32

// GenerateSecureToken returns byteLength random bytes hex-encoded.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// TokenSource produces opaque ephemeral tokens.
type TokenSource func() (string, error)

// RandomTokenSource draws EphemeralTokenBytes from crypto/rand.
func RandomTokenSource() (string, error) {
	return GenerateSecureToken(EphemeralTokenBytes)
}

package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/arklim/campus-auth/internal/core/port"
)

// DefaultBcryptCost is the work factor used when configuration leaves it unset.
const DefaultBcryptCost = 12

// MaxPasswordBytes is the longest input bcrypt will hash without truncation.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for inputs bcrypt cannot represent.
var ErrPasswordTooLong = errors.New("security: password exceeds 72 bytes")

// BcryptHasher hashes passwords with a per-hash random salt embedded in the digest.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher clamps cost into the range bcrypt accepts.
func NewBcryptHasher(cost int) *BcryptHasher {
	switch {
	case cost == 0:
		cost = DefaultBcryptCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost reports the effective work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(digest), nil
}

// Verify compares in constant time. Malformed digests simply fail to match.
func (h *BcryptHasher) Verify(password, digest string) bool {
	if password == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

var _ port.PasswordHasher = (*BcryptHasher)(nil)

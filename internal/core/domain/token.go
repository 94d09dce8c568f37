package domain

import "time"

// TokenKind distinguishes the capabilities an ephemeral token can grant.
type TokenKind string

const (
	TokenKindEmailVerification TokenKind = "email_verification"
	TokenKindPasswordReset     TokenKind = "password_reset"
)

// Valid reports whether the kind is one the broker knows how to store.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindEmailVerification, TokenKindPasswordReset:
		return true
	default:
		return false
	}
}

// ConsumedByDeletion reports whether redeeming the token removes the row
// rather than flagging it as used.
func (k TokenKind) ConsumedByDeletion() bool {
	return k == TokenKindEmailVerification
}

// EphemeralToken is a single-use, time-boxed capability grant delivered out of band.
type EphemeralToken struct {
	Token     string
	AccountID string
	Kind      TokenKind
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (t EphemeralToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// Redeemable reports whether the token may still be consumed at the supplied instant.
func (t EphemeralToken) Redeemable(at time.Time) bool {
	if t.Kind == TokenKindPasswordReset && t.Used {
		return false
	}
	return !t.IsExpired(at)
}

// TokenType enumerates signed bearer credential types.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

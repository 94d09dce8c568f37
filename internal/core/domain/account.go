package domain

import (
	"strings"
	"time"
)

// AccountState enumerates the derived authentication states of an account.
type AccountState string

const (
	AccountStateUnverified  AccountState = "unverified"
	AccountStateActive      AccountState = "active"
	AccountStateLocked      AccountState = "locked"
	AccountStateDeactivated AccountState = "deactivated"
)

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID                  string
	Name                string
	Email               string
	PasswordHash        string
	Role                Role
	EmailVerified       bool
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	PrivacyConsent      bool
	TermsAccepted       bool
	ConsentedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsLocked reports whether the lockout window is still open at the supplied instant.
func (a Account) IsLocked(at time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(at)
}

// LockRemaining returns how long the lockout window stays open, or zero when unlocked.
func (a Account) LockRemaining(at time.Time) time.Duration {
	if !a.IsLocked(at) {
		return 0
	}
	return a.LockedUntil.Sub(at)
}

// HasStaleLock reports whether a lock timestamp is present but already elapsed.
func (a Account) HasStaleLock(at time.Time) bool {
	return a.LockedUntil != nil && !a.LockedUntil.After(at)
}

// State derives the authentication state. Deactivation wins over everything,
// then an open lockout window, then the verification flag.
func (a Account) State(at time.Time) AccountState {
	switch {
	case !a.IsActive:
		return AccountStateDeactivated
	case a.IsLocked(at):
		return AccountStateLocked
	case !a.EmailVerified:
		return AccountStateUnverified
	default:
		return AccountStateActive
	}
}

// Sanitized returns a copy safe to hand to transport layers.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	return a
}

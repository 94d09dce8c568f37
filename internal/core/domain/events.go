package domain

import "time"

// EmailVerificationRequestedEvent is the payload for auth.email.verification_requested messages.
type EmailVerificationRequestedEvent struct {
	EventID     string
	AccountID   string
	Email       string
	Name        string
	Token       string
	ExpiresAt   time.Time
	RequestedAt time.Time
}

// PasswordResetRequestedEvent is the payload for auth.email.password_reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID     string
	AccountID   string
	Email       string
	Name        string
	Token       string
	ExpiresAt   time.Time
	RequestedAt time.Time
}

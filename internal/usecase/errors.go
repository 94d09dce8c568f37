package usecase

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/arklim/campus-auth/internal/core/domain"
)

var (
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrEmailExists indicates the email is already registered.
	ErrEmailExists = errors.New("email already registered")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the lockout window is open.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive indicates the account was deactivated.
	ErrAccountInactive = errors.New("account is not active")
	// ErrEmailNotVerified indicates the password matched but the email is unverified.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrInvalidToken covers missing, expired, used and malformed tokens of every kind.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrTooManyRequests indicates the client exhausted its request budget.
	ErrTooManyRequests = errors.New("too many requests")
)

// Stable machine-readable error codes.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeEmailExists        = "EMAIL_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeInternal           = "INTERNAL_ERROR"
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// LockedError carries the lockout detail surfaced to the caller.
type LockedError struct {
	Until            time.Time
	RemainingMinutes int
}

// newLockedError reports the open window of a locked account, rounded up to
// whole minutes and never below one.
func newLockedError(account domain.Account, now time.Time) *LockedError {
	remaining := int(math.Ceil(account.LockRemaining(now).Minutes()))
	if remaining < 1 {
		remaining = 1
	}
	until := now
	if account.LockedUntil != nil {
		until = *account.LockedUntil
	}
	return &LockedError{Until: until, RemainingMinutes: remaining}
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.RemainingMinutes)
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrValidation, CodeValidation},
	{ErrEmailExists, CodeEmailExists},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrAccountLocked, CodeAccountLocked},
	{ErrAccountInactive, CodeAccountInactive},
	{ErrEmailNotVerified, CodeEmailNotVerified},
	{ErrInvalidToken, CodeInvalidToken},
	{ErrTooManyRequests, CodeTooManyRequests},
}

// ErrorCode maps an error onto its stable code. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// IsExpected reports whether err is one of the outcomes surfaced to callers
// rather than an unexpected failure.
func IsExpected(err error) bool {
	code := ErrorCode(err)
	return code != "" && code != CodeInternal
}

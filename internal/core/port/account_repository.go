package port

import (
	"context"
	"time"

	"github.com/arklim/campus-auth/internal/core/domain"
)

// AccountRepository exposes persistence behavior for accounts.
type AccountRepository interface {
	// Create inserts the account and returns repository.ErrConflict when the email is taken.
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	// IncrementFailedAttempts bumps the counter in a single statement and returns the new value.
	IncrementFailedAttempts(ctx context.Context, id string, at time.Time) (int, error)
	// Lock opens a lockout window only when the persisted counter is still at or above threshold.
	Lock(ctx context.Context, id string, until time.Time, threshold int) error
	// RecordSuccessfulLogin zeroes the counter, clears an elapsed lock and stamps
	// last_login. It returns repository.ErrNotFound without writing when the
	// account is missing or its lockout window is still open at the given time.
	RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error
	// ResetPassword replaces the hash, zeroes the counter and clears the lock.
	ResetPassword(ctx context.Context, id string, passwordHash string, at time.Time) error
}

// Repositories groups the stores a unit of work can touch.
type Repositories struct {
	Accounts AccountRepository
	Tokens   EphemeralTokenRepository
}

// Transactor runs fn against repositories bound to a single database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}

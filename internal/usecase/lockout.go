package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/infra/logger"
	"github.com/arklim/campus-auth/internal/repository"
)

// LockoutPolicy configures the per-account failed login threshold.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// AccountGuard decides whether a login attempt may proceed and maintains the
// failure counter and lockout window.
type AccountGuard struct {
	hasher  port.PasswordHasher
	policy  LockoutPolicy
	clock   port.Clock
	logger  *zap.Logger
	metrics AuthMetrics
}

// NewAccountGuard constructs a guard. Both policy values must be positive.
func NewAccountGuard(hasher port.PasswordHasher, policy LockoutPolicy, log *zap.Logger) (*AccountGuard, error) {
	if hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if policy.MaxAttempts <= 0 || policy.Duration <= 0 {
		return nil, fmt.Errorf("lockout policy requires positive attempts and duration")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountGuard{
		hasher: hasher,
		policy: policy,
		clock:  port.SystemClock(),
		logger: log,
	}, nil
}

// WithClock overrides the time source used for lockout math.
func (g *AccountGuard) WithClock(clock port.Clock) *AccountGuard {
	if clock != nil {
		g.clock = clock
	}
	return g
}

// WithMetrics attaches an optional metrics recorder.
func (g *AccountGuard) WithMetrics(metrics AuthMetrics) *AccountGuard {
	g.metrics = metrics
	return g
}

// EvaluateLogin re-reads the account and runs the login state machine against it.
// On success the returned account reflects the cleared counter and new last_login.
func (g *AccountGuard) EvaluateLogin(ctx context.Context, accounts port.AccountRepository, accountID, password string) (*domain.Account, error) {
	account, err := accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	now := g.clock.Now()

	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	if account.IsLocked(now) {
		return nil, newLockedError(*account, now)
	}

	if !g.hasher.Verify(password, account.PasswordHash) {
		return nil, g.recordFailure(ctx, accounts, account, now)
	}

	if !account.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	if account.HasStaleLock(now) {
		g.logger.Debug("lockout window elapsed, clearing on successful login",
			zap.String("account_id", account.ID),
			zap.Time("locked_until", *account.LockedUntil),
		)
	}

	if err := accounts.RecordSuccessfulLogin(ctx, account.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, g.lockedDuringVerify(ctx, accounts, account.ID, now)
		}
		return nil, fmt.Errorf("record successful login: %w", err)
	}

	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	lastLogin := now
	account.LastLogin = &lastLogin
	account.UpdatedAt = now

	return account, nil
}

// lockedDuringVerify resolves a refused success write. A concurrent failure may
// have opened the window while the hash was being checked; that lock stands.
func (g *AccountGuard) lockedDuringVerify(ctx context.Context, accounts port.AccountRepository, accountID string, now time.Time) error {
	current, err := accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("reload account: %w", err)
	}
	if !current.IsLocked(now) {
		return fmt.Errorf("record successful login: %w", repository.ErrNotFound)
	}

	g.logger.Info("login refused, account locked while verifying password",
		zap.String("account_id", current.ID),
		zap.Time("locked_until", *current.LockedUntil),
	)
	return newLockedError(*current, now)
}

func (g *AccountGuard) recordFailure(ctx context.Context, accounts port.AccountRepository, account *domain.Account, now time.Time) error {
	attempts, err := accounts.IncrementFailedAttempts(ctx, account.ID, now)
	if err != nil {
		return fmt.Errorf("increment failed attempts: %w", err)
	}

	if attempts < g.policy.MaxAttempts {
		return ErrInvalidCredentials
	}

	until := now.Add(g.policy.Duration)
	if err := accounts.Lock(ctx, account.ID, until, g.policy.MaxAttempts); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	g.logger.Warn("account locked after repeated failed logins",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
		zap.Int("failed_attempts", attempts),
		zap.Time("locked_until", until),
	)
	if g.metrics != nil {
		g.metrics.ObserveLockout()
	}

	return ErrInvalidCredentials
}

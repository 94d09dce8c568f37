package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/repository"
)

const accountsTable = "auth.accounts"

var accountColumns = []string{
	"id",
	"name",
	"email",
	"password_hash",
	"role",
	"email_verified",
	"is_active",
	"failed_login_attempts",
	"locked_until",
	"last_login",
	"privacy_consent",
	"terms_accepted",
	"consented_at",
	"created_at",
	"updated_at",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a repository backed by any executor (pool or transaction).
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Insert(accountsTable).
		Columns(accountColumns...).
		Values(
			account.ID,
			account.Name,
			domain.NormalizeEmail(account.Email),
			account.PasswordHash,
			string(account.Role),
			account.EmailVerified,
			account.IsActive,
			account.FailedLoginAttempts,
			optionalTime(account.LockedUntil),
			optionalTime(account.LastLogin),
			account.PrivacyConsent,
			account.TermsAccepted,
			optionalTime(account.ConsentedAt),
			account.CreatedAt.UTC(),
			account.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert account: %w", translateError(err))
	}

	return nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	return scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByEmail retrieves an account by its case-insensitive email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(squirrel.Eq{"email": domain.NormalizeEmail(email)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by email sql: %w", err)
	}

	return scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// MarkEmailVerified flips the verification flag.
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "mark email verified", r.builder.Update(accountsTable).
		Set("email_verified", true).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}))
}

// IncrementFailedAttempts bumps the counter atomically. An elapsed lockout window
// restarts the streak at one and clears the stale lock in the same statement.
func (r *AccountRepository) IncrementFailedAttempts(ctx context.Context, id string, at time.Time) (int, error) {
	now := at.UTC()
	stmt, args, err := r.builder.Update(accountsTable).
		Set("failed_login_attempts", squirrel.Expr(
			"CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1 ELSE failed_login_attempts + 1 END", now)).
		Set("locked_until", squirrel.Expr(
			"CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN NULL ELSE locked_until END", now)).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING failed_login_attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment failed attempts sql: %w", err)
	}

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("increment failed attempts: %w", translateError(err))
	}

	return attempts, nil
}

// Lock opens the lockout window when the counter still meets the threshold.
func (r *AccountRepository) Lock(ctx context.Context, id string, until time.Time, threshold int) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("locked_until", until.UTC()).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.GtOrEq{"failed_login_attempts": threshold}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build lock account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("lock account: %w", translateError(err))
	}

	return nil
}

// RecordSuccessfulLogin clears the failure streak and stamps last_login. The row
// is left untouched while a lockout window is open at the supplied instant, so a
// lock committed by a concurrent failure survives; that case reports ErrNotFound.
func (r *AccountRepository) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	now := at.UTC()
	return r.update(ctx, "record successful login", r.builder.Update(accountsTable).
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Set("last_login", now).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Or{
			squirrel.Eq{"locked_until": nil},
			squirrel.LtOrEq{"locked_until": now},
		}))
}

// ResetPassword replaces the password hash and clears lockout state.
func (r *AccountRepository) ResetPassword(ctx context.Context, id string, passwordHash string, at time.Time) error {
	return r.update(ctx, "reset password", r.builder.Update(accountsTable).
		Set("password_hash", passwordHash).
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}))
}

func (r *AccountRepository) update(ctx context.Context, op string, builder squirrel.UpdateBuilder) error {
	stmt, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build %s sql: %w", op, err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account     domain.Account
		role        string
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		consentedAt sql.NullTime
	)

	if err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&role,
		&account.EmailVerified,
		&account.IsActive,
		&account.FailedLoginAttempts,
		&lockedUntil,
		&lastLogin,
		&account.PrivacyConsent,
		&account.TermsAccepted,
		&consentedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if translated := translateError(err); translated == repository.ErrNotFound {
			return nil, translated
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	account.Role = domain.Role(role)
	account.LockedUntil = nullableTimePtr(lockedUntil)
	account.LastLogin = nullableTimePtr(lastLogin)
	account.ConsentedAt = nullableTimePtr(consentedAt)

	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)

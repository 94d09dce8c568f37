package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/repository"
)

const (
	verificationTokensTable = "auth.email_verification_tokens"
	resetTokensTable        = "auth.password_reset_tokens"
)

// EphemeralTokenRepository implements port.EphemeralTokenRepository over one table per kind.
type EphemeralTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewEphemeralTokenRepository constructs a token repository bound to the executor.
func NewEphemeralTokenRepository(exec pgExecutor) *EphemeralTokenRepository {
	return &EphemeralTokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func tableFor(kind domain.TokenKind) (string, error) {
	switch kind {
	case domain.TokenKindEmailVerification:
		return verificationTokensTable, nil
	case domain.TokenKindPasswordReset:
		return resetTokensTable, nil
	default:
		return "", fmt.Errorf("unsupported token kind %q", kind)
	}
}

// Create stores a freshly issued token.
func (r *EphemeralTokenRepository) Create(ctx context.Context, token domain.EphemeralToken) error {
	table, err := tableFor(token.Kind)
	if err != nil {
		return err
	}

	insert := r.builder.Insert(table)
	if token.Kind.ConsumedByDeletion() {
		insert = insert.Columns("token", "account_id", "expires_at", "created_at").
			Values(token.Token, token.AccountID, token.ExpiresAt.UTC(), token.CreatedAt.UTC())
	} else {
		insert = insert.Columns("token", "account_id", "expires_at", "used", "created_at").
			Values(token.Token, token.AccountID, token.ExpiresAt.UTC(), token.Used, token.CreatedAt.UTC())
	}

	stmt, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert %s token sql: %w", token.Kind, err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert %s token: %w", token.Kind, translateError(err))
	}

	return nil
}

// Get loads a token by value.
func (r *EphemeralTokenRepository) Get(ctx context.Context, kind domain.TokenKind, token string) (*domain.EphemeralToken, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	usedColumn := "used"
	if kind.ConsumedByDeletion() {
		usedColumn = "FALSE AS used"
	}

	stmt, args, err := r.builder.Select("token", "account_id", "expires_at", usedColumn, "created_at").
		From(table).
		Where(squirrel.Eq{"token": token}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select %s token sql: %w", kind, err)
	}

	record := domain.EphemeralToken{Kind: kind}
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&record.Token,
		&record.AccountID,
		&record.ExpiresAt,
		&record.Used,
		&record.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("select %s token: %w", kind, translateError(err))
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()

	return &record, nil
}

// Delete removes a token row. Missing rows report repository.ErrNotFound.
func (r *EphemeralTokenRepository) Delete(ctx context.Context, kind domain.TokenKind, token string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Delete(table).Where(squirrel.Eq{"token": token}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete %s token sql: %w", kind, err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete %s token: %w", kind, translateError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkUsed flips the used flag. A token that is already used reports repository.ErrNotFound,
// so two concurrent redemptions cannot both succeed.
func (r *EphemeralTokenRepository) MarkUsed(ctx context.Context, kind domain.TokenKind, token string) error {
	if kind.ConsumedByDeletion() {
		return r.Delete(ctx, kind, token)
	}
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Update(table).
		Set("used", true).
		Where(squirrel.Eq{"token": token, "used": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark %s token used sql: %w", kind, err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark %s token used: %w", kind, translateError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteUnusedForAccount drops outstanding tokens of a kind for the account.
func (r *EphemeralTokenRepository) DeleteUnusedForAccount(ctx context.Context, kind domain.TokenKind, accountID string) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	del := r.builder.Delete(table).Where(squirrel.Eq{"account_id": accountID})
	if !kind.ConsumedByDeletion() {
		del = del.Where(squirrel.Eq{"used": false})
	}

	return r.execDelete(ctx, del, fmt.Sprintf("delete unused %s tokens", kind))
}

// PurgeExpired removes tokens whose expiry is at or before the cutoff.
func (r *EphemeralTokenRepository) PurgeExpired(ctx context.Context, kind domain.TokenKind, before time.Time) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	del := r.builder.Delete(table).Where(squirrel.LtOrEq{"expires_at": before.UTC()})
	return r.execDelete(ctx, del, fmt.Sprintf("purge expired %s tokens", kind))
}

func (r *EphemeralTokenRepository) execDelete(ctx context.Context, del squirrel.DeleteBuilder, op string) (int, error) {
	stmt, args, err := del.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s sql: %w", op, err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, translateError(err))
	}
	return int(tag.RowsAffected()), nil
}

var _ port.EphemeralTokenRepository = (*EphemeralTokenRepository)(nil)

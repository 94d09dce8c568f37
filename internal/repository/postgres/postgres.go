package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/repository"
)

const uniqueViolationCode = "23505"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgPool is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type pgPool interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transactor implements port.Transactor on top of a pgx pool.
type Transactor struct {
	pool pgPool
}

// NewTransactor wires a transactor around the supplied pool.
func NewTransactor(pool pgPool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTx runs fn with repositories bound to one transaction.
func (t *Transactor) WithinTx(ctx context.Context, fn func(repos port.Repositories) error) (err error) {
	if t == nil || t.pool == nil {
		return fmt.Errorf("transactor not configured")
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("commit tx: %w", commitErr)
		}
	}()

	err = fn(port.Repositories{
		Accounts: NewAccountRepository(tx),
		Tokens:   NewEphemeralTokenRepository(tx),
	})
	return err
}

var _ port.Transactor = (*Transactor)(nil)

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullableTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func optionalTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

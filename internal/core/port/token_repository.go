package port

import (
	"context"
	"time"

	"github.com/arklim/campus-auth/internal/core/domain"
)

// EphemeralTokenRepository stores single-use verification and reset tokens.
type EphemeralTokenRepository interface {
	Create(ctx context.Context, token domain.EphemeralToken) error
	Get(ctx context.Context, kind domain.TokenKind, token string) (*domain.EphemeralToken, error)
	Delete(ctx context.Context, kind domain.TokenKind, token string) error
	// MarkUsed flips the used flag and returns repository.ErrNotFound when the token was already used.
	MarkUsed(ctx context.Context, kind domain.TokenKind, token string) error
	// DeleteUnusedForAccount removes tokens of the kind that have not been redeemed yet.
	DeleteUnusedForAccount(ctx context.Context, kind domain.TokenKind, accountID string) (int, error)
	PurgeExpired(ctx context.Context, kind domain.TokenKind, before time.Time) (int, error)
}

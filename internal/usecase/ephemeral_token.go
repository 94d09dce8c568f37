package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/infra/security"
	"github.com/arklim/campus-auth/internal/repository"
)

const (
	maxTokenLength  = 256
	tokenIssueTries = 3
)

// TokenTTLs holds the validity window per ephemeral token kind.
type TokenTTLs struct {
	EmailVerification time.Duration
	PasswordReset     time.Duration
}

func (t TokenTTLs) forKind(kind domain.TokenKind) time.Duration {
	switch kind {
	case domain.TokenKindEmailVerification:
		return t.EmailVerification
	case domain.TokenKindPasswordReset:
		return t.PasswordReset
	default:
		return 0
	}
}

// TokenBroker issues and redeems single-use tokens. Every method takes the
// repository to use so callers can bind it to a transaction.
type TokenBroker struct {
	ttls   TokenTTLs
	source security.TokenSource
	clock  port.Clock
}

// NewTokenBroker constructs a broker. A nil source falls back to crypto/rand.
func NewTokenBroker(ttls TokenTTLs, source security.TokenSource) (*TokenBroker, error) {
	if ttls.EmailVerification <= 0 || ttls.PasswordReset <= 0 {
		return nil, fmt.Errorf("token ttls must be positive")
	}
	if source == nil {
		source = security.RandomTokenSource
	}
	return &TokenBroker{ttls: ttls, source: source, clock: port.SystemClock()}, nil
}

// WithClock overrides the time source used for expiry math.
func (b *TokenBroker) WithClock(clock port.Clock) *TokenBroker {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// Issue persists a fresh token. Issuing a reset token first removes the
// account's unredeemed reset tokens so at most one is live.
func (b *TokenBroker) Issue(ctx context.Context, tokens port.EphemeralTokenRepository, accountID string, kind domain.TokenKind) (domain.EphemeralToken, error) {
	if !kind.Valid() {
		return domain.EphemeralToken{}, fmt.Errorf("unsupported token kind %q", kind)
	}

	if kind == domain.TokenKindPasswordReset {
		if _, err := tokens.DeleteUnusedForAccount(ctx, kind, accountID); err != nil {
			return domain.EphemeralToken{}, fmt.Errorf("delete prior %s tokens: %w", kind, err)
		}
	}

	now := b.clock.Now()
	for attempt := 1; ; attempt++ {
		value, err := b.source()
		if err != nil {
			return domain.EphemeralToken{}, fmt.Errorf("generate %s token: %w", kind, err)
		}

		token := domain.EphemeralToken{
			Token:     value,
			AccountID: accountID,
			Kind:      kind,
			ExpiresAt: now.Add(b.ttls.forKind(kind)),
			CreatedAt: now,
		}

		err = tokens.Create(ctx, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt >= tokenIssueTries {
			return domain.EphemeralToken{}, fmt.Errorf("store %s token: %w", kind, err)
		}
	}
}

// Peek validates a token without redeeming it.
func (b *TokenBroker) Peek(ctx context.Context, tokens port.EphemeralTokenRepository, raw string, kind domain.TokenKind) (*domain.EphemeralToken, error) {
	value := strings.TrimSpace(raw)
	if value == "" || len(value) > maxTokenLength || !kind.Valid() {
		return nil, ErrInvalidToken
	}

	token, err := tokens.Get(ctx, kind, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load %s token: %w", kind, err)
	}

	if token.Kind == "" {
		token.Kind = kind
	}
	if !token.Redeemable(b.clock.Now()) {
		return nil, ErrInvalidToken
	}

	return token, nil
}

// Consume redeems a token and returns the account it was bound to.
// Verification tokens are deleted while reset tokens are flagged as used.
func (b *TokenBroker) Consume(ctx context.Context, tokens port.EphemeralTokenRepository, raw string, kind domain.TokenKind) (string, error) {
	token, err := b.Peek(ctx, tokens, raw, kind)
	if err != nil {
		return "", err
	}

	if kind.ConsumedByDeletion() {
		err = tokens.Delete(ctx, kind, token.Token)
	} else {
		err = tokens.MarkUsed(ctx, kind, token.Token)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("redeem %s token: %w", kind, err)
	}

	return token.AccountID, nil
}

// PurgeExpired removes elapsed tokens of every kind.
func (b *TokenBroker) PurgeExpired(ctx context.Context, tokens port.EphemeralTokenRepository) (int, error) {
	now := b.clock.Now()
	total := 0
	for _, kind := range []domain.TokenKind{domain.TokenKindEmailVerification, domain.TokenKindPasswordReset} {
		removed, err := tokens.PurgeExpired(ctx, kind, now)
		if err != nil {
			return total, fmt.Errorf("purge %s tokens: %w", kind, err)
		}
		total += removed
	}
	return total, nil
}

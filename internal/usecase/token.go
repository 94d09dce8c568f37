package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/infra/security"
	"github.com/arklim/campus-auth/internal/repository"
)

const revocationReasonLogout = "logout"

// AccessClaims is the verified identity carried by an access token.
type AccessClaims struct {
	AccountID string
	Role      domain.Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies signed access and refresh tokens.
type TokenIssuer struct {
	jwt         *security.JWTManager
	accounts    port.AccountRepository
	accessTTL   time.Duration
	refreshTTL  time.Duration
	revocations port.RevocationStore
	clock       port.Clock
	logger      *zap.Logger
	metrics     AuthMetrics
}

// NewTokenIssuer constructs an issuer. accounts is used by Refresh to re-check the live account.
func NewTokenIssuer(manager *security.JWTManager, accounts port.AccountRepository, accessTTL, refreshTTL time.Duration, log *zap.Logger) (*TokenIssuer, error) {
	if manager == nil {
		return nil, fmt.Errorf("jwt manager is required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account repository is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token ttls must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenIssuer{
		jwt:        manager,
		accounts:   accounts,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      port.SystemClock(),
		logger:     log,
	}, nil
}

// WithRevocation enables the revocation check on every verification.
func (i *TokenIssuer) WithRevocation(store port.RevocationStore) *TokenIssuer {
	i.revocations = store
	return i
}

// WithClock overrides the time source used for iat and exp.
func (i *TokenIssuer) WithClock(clock port.Clock) *TokenIssuer {
	if clock != nil {
		i.clock = clock
	}
	return i
}

// WithMetrics attaches an optional metrics recorder.
func (i *TokenIssuer) WithMetrics(metrics AuthMetrics) *TokenIssuer {
	i.metrics = metrics
	return i
}

func (i *TokenIssuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// IssueAccessToken signs a short-lived token carrying subject and role.
func (i *TokenIssuer) IssueAccessToken(accountID string, role domain.Role) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, fmt.Errorf("account id is required")
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}
	return i.issue(accountID, role, domain.TokenTypeAccess, i.accessTTL)
}

// IssueRefreshToken signs a long-lived token carrying only the subject.
func (i *TokenIssuer) IssueRefreshToken(accountID string) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, fmt.Errorf("account id is required")
	}
	return i.issue(accountID, "", domain.TokenTypeRefresh, i.refreshTTL)
}

func (i *TokenIssuer) issue(accountID string, role domain.Role, tokenType domain.TokenType, ttl time.Duration) (string, time.Time, error) {
	now := i.clock.Now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := &security.TokenClaims{
		Role: string(role),
		Type: string(tokenType),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := i.jwt.Sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}

	if i.metrics != nil {
		i.metrics.ObserveTokenIssued(string(tokenType))
	}

	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature, type, issuer, audience and expiry.
// Without a revocation store the check performs no I/O.
func (i *TokenIssuer) VerifyAccessToken(ctx context.Context, raw string) (*AccessClaims, error) {
	claims, err := i.parse(raw, domain.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if err := i.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	out := &AccessClaims{
		AccountID: claims.Subject,
		Role:      role,
		TokenID:   claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Refresh exchanges a refresh token for a new access token after re-reading
// the account. The refresh token itself is not rotated.
func (i *TokenIssuer) Refresh(ctx context.Context, raw string) (string, time.Time, error) {
	claims, err := i.parse(raw, domain.TokenTypeRefresh)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := i.checkRevoked(ctx, claims.ID); err != nil {
		return "", time.Time{}, err
	}

	account, err := i.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", time.Time{}, ErrInvalidToken
		}
		return "", time.Time{}, fmt.Errorf("load account: %w", err)
	}
	if !account.IsActive {
		return "", time.Time{}, ErrInvalidToken
	}

	return i.IssueAccessToken(account.ID, account.Role)
}

// Revoke records the token identifier until the token's natural expiry.
// Invalid tokens are ignored and the call is a no-op without a revocation store.
func (i *TokenIssuer) Revoke(ctx context.Context, raw string) error {
	if i.revocations == nil || strings.TrimSpace(raw) == "" {
		return nil
	}

	claims, err := i.jwt.Parse(raw)
	if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}

	ttl := claims.ExpiresAt.Time.Sub(i.clock.Now())
	if ttl <= 0 {
		return nil
	}

	if err := i.revocations.MarkRevoked(ctx, claims.ID, revocationReasonLogout, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (i *TokenIssuer) parse(raw string, want domain.TokenType) (*security.TokenClaims, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, ErrInvalidToken
	}

	claims, err := i.jwt.Parse(value)
	if err != nil {
		i.logger.Debug("token rejected", zap.String("type", string(want)), zap.Error(err))
		return nil, ErrInvalidToken
	}
	if claims.Type != string(want) || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *TokenIssuer) checkRevoked(ctx context.Context, jti string) error {
	if i.revocations == nil {
		return nil
	}
	revoked, _, err := i.revocations.IsRevoked(ctx, jti)
	if err != nil {
		return fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return ErrInvalidToken
	}
	return nil
}

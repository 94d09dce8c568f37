package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/campus-auth/internal/core/port"
)

const defaultRevocationPrefix = "auth:revoked"

// RevocationRepository remembers revoked token identifiers until the token would have expired anyway.
type RevocationRepository struct {
	client red.Cmdable
	prefix string
}

// NewRevocationRepository wires a Redis client into a revocation repository.
func NewRevocationRepository(client red.Cmdable, keyPrefix string) *RevocationRepository {
	prefix := strings.TrimSuffix(strings.TrimSpace(keyPrefix), ":")
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}
	return &RevocationRepository{client: client, prefix: prefix}
}

// MarkRevoked stores the jti with its reason. The entry expires with the token.
func (r *RevocationRepository) MarkRevoked(ctx context.Context, jti string, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	key, err := r.key(jti)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "revoked"
	}

	if err := r.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked jti: %w", err)
	}
	return nil
}

// IsRevoked reports whether the jti was revoked, along with the stored reason.
func (r *RevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, string, error) {
	key, err := r.key(jti)
	if err != nil {
		return false, "", err
	}

	reason, err := r.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, red.Nil):
		return false, "", nil
	case err != nil:
		return false, "", fmt.Errorf("redis get revoked jti: %w", err)
	}
	return true, reason, nil
}

func (r *RevocationRepository) key(jti string) (string, error) {
	trimmed := strings.TrimSpace(jti)
	if trimmed == "" {
		return "", errors.New("jti must not be empty")
	}
	return r.prefix + ":" + trimmed, nil
}

var _ port.RevocationStore = (*RevocationRepository)(nil)

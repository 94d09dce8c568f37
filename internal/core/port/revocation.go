package port

import (
	"context"
	"time"
)

// RevocationStore tracks signed token identifiers revoked before their natural expiry.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, jti string, reason string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, string, error)
}

// AvailabilityProbe reports whether an external dependency is currently reachable.
type AvailabilityProbe interface {
	Available(ctx context.Context) bool
}

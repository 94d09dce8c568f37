package port

import (
	"context"
	"time"
)

// RateLimitDecision is the outcome of recording a hit against a sliding window.
type RateLimitDecision struct {
	Allowed bool
	// Count is the number of attempts inside the window, including the current one when allowed.
	Count int
	// Oldest is the earliest attempt still inside the window; zero when the window was empty.
	Oldest time.Time
}

// RateLimitStore enforces sliding-window limits for an opaque key.
type RateLimitStore interface {
	// Hit trims expired attempts, evaluates the limit and records the attempt only when allowed.
	Hit(ctx context.Context, key string, limit int, window time.Duration, at time.Time) (RateLimitDecision, error)
}

package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/core/port"
)

// CheckFunc reports nil when the dependency answered.
type CheckFunc func(ctx context.Context) error

// Availability caches the result of a dependency check for a fixed TTL.
type Availability struct {
	name   string
	check  CheckFunc
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	available bool
	checkedAt time.Time
}

// NewAvailability builds a probe. A non-positive ttl re-checks on every call.
func NewAvailability(name string, check CheckFunc, ttl time.Duration, logger *zap.Logger) *Availability {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Availability{
		name:   name,
		check:  check,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source used for TTL math.
func (a *Availability) WithClock(now func() time.Time) *Availability {
	if now != nil {
		a.now = now
	}
	return a
}

// Available returns the cached state, refreshing it once the TTL elapsed.
// The check itself runs without holding the lock.
func (a *Availability) Available(ctx context.Context) bool {
	now := a.now()

	a.mu.Lock()
	fresh := !a.checkedAt.IsZero() && now.Sub(a.checkedAt) < a.ttl
	available := a.available
	a.mu.Unlock()

	if fresh {
		return available
	}

	available = a.refresh(ctx)

	a.mu.Lock()
	previous := a.available
	neverChecked := a.checkedAt.IsZero()
	a.available = available
	a.checkedAt = now
	a.mu.Unlock()

	if neverChecked || previous != available {
		a.logger.Info("dependency availability changed",
			zap.String("dependency", a.name),
			zap.Bool("available", available),
		)
	}

	return available
}

func (a *Availability) refresh(ctx context.Context) bool {
	if a.check == nil {
		return true
	}
	if err := a.check(ctx); err != nil {
		a.logger.Warn("dependency check failed",
			zap.String("dependency", a.name),
			zap.Error(err),
		)
		return false
	}
	return true
}

// State returns the last observed availability and when it was observed.
func (a *Availability) State() (bool, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available, a.checkedAt
}

// Invalidate forces the next Available call to re-run the check.
func (a *Availability) Invalidate() {
	a.mu.Lock()
	a.checkedAt = time.Time{}
	a.mu.Unlock()
}

func (a *Availability) Name() string {
	return a.name
}

// Check adapts the probe to readiness checks.
func (a *Availability) Check(ctx context.Context) error {
	if !a.Available(ctx) {
		return fmt.Errorf("%s unavailable", a.name)
	}
	return nil
}

var _ port.AvailabilityProbe = (*Availability)(nil)

package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestAvailabilityCachesWithinTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	var checkErr error

	probe := NewAvailability("kafka", func(context.Context) error {
		calls++
		return checkErr
	}, 30*time.Second, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })

	if !probe.Available(context.Background()) {
		t.Fatalf("expected probe to report available")
	}
	checkErr = errors.New("broker down")
	now = now.Add(10 * time.Second)
	if !probe.Available(context.Background()) {
		t.Fatalf("expected cached availability inside ttl")
	}
	if calls != 1 {
		t.Fatalf("expected 1 check call, got %d", calls)
	}

	now = now.Add(30 * time.Second)
	if probe.Available(context.Background()) {
		t.Fatalf("expected probe to report unavailable after ttl")
	}
	if calls != 2 {
		t.Fatalf("expected 2 check calls, got %d", calls)
	}

	available, checkedAt := probe.State()
	if available || !checkedAt.Equal(now) {
		t.Fatalf("unexpected state available=%v checkedAt=%v", available, checkedAt)
	}
}

func TestAvailabilityInvalidateForcesRecheck(t *testing.T) {
	calls := 0
	probe := NewAvailability("kafka", func(context.Context) error {
		calls++
		return nil
	}, time.Hour, nil)

	probe.Available(context.Background())
	probe.Invalidate()
	probe.Available(context.Background())

	if calls != 2 {
		t.Fatalf("expected invalidate to force a second check, got %d calls", calls)
	}
}

func TestAvailabilityCheck(t *testing.T) {
	probe := NewAvailability("mailer", func(context.Context) error {
		return errors.New("unreachable")
	}, 0, nil)

	if err := probe.Check(context.Background()); err == nil {
		t.Fatalf("expected check error for unavailable dependency")
	}
	if probe.Name() != "mailer" {
		t.Fatalf("unexpected name %q", probe.Name())
	}
}

func TestAvailabilityWithoutCheckIsAvailable(t *testing.T) {
	probe := NewAvailability("stub", nil, time.Minute, nil)
	if !probe.Available(context.Background()) {
		t.Fatalf("expected probe without check to be available")
	}
}

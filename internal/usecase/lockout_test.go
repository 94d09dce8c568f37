package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
)

func newTestGuard(t *testing.T, clock *fakeClock) *AccountGuard {
	t.Helper()
	guard, err := NewAccountGuard(newTestHasher(), LockoutPolicy{MaxAttempts: 3, Duration: 10 * time.Minute}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewAccountGuard returned error: %v", err)
	}
	return guard.WithClock(clock)
}

func seedAccount(t *testing.T, store *memStore, mutate func(*domain.Account)) domain.Account {
	t.Helper()
	hash, err := newTestHasher().Hash(alicePassword)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	account := domain.Account{
		ID:            "acc-1",
		Name:          "Alice",
		Email:         aliceEmail,
		PasswordHash:  hash,
		Role:          domain.RoleStudent,
		EmailVerified: true,
		IsActive:      true,
	}
	if mutate != nil {
		mutate(&account)
	}
	store.setAccount(account)
	return account
}

func TestAccountGuardLocksAtThreshold(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	accounts := store.repositories().Accounts
	guard := newTestGuard(t, clock)
	seedAccount(t, store, nil)

	for i := 0; i < 3; i++ {
		if _, err := guard.EvaluateLogin(context.Background(), accounts, "acc-1", "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	account := store.account(t, aliceEmail)
	if account.LockedUntil == nil || !account.LockedUntil.Equal(clock.Now().Add(10*time.Minute)) {
		t.Fatalf("expected lock until now+10m, got %v", account.LockedUntil)
	}
	if account.State(clock.Now()) != domain.AccountStateLocked {
		t.Fatalf("expected locked state")
	}
}

func TestAccountGuardRereadsPersistedLock(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	accounts := store.repositories().Accounts
	guard := newTestGuard(t, clock)

	until := clock.Now().Add(7 * time.Minute)
	seedAccount(t, store, func(a *domain.Account) {
		a.FailedLoginAttempts = 3
		a.LockedUntil = &until
	})

	_, err := guard.EvaluateLogin(context.Background(), accounts, "acc-1", alicePassword)
	var locked *LockedError
	if !errors.As(err, &locked) || locked.RemainingMinutes != 7 {
		t.Fatalf("expected 7 remaining minutes, got %v", err)
	}
	if store.account(t, aliceEmail).FailedLoginAttempts != 3 {
		t.Fatalf("expected locked attempt not to touch counter")
	}
}

func TestAccountGuardClearsStaleLockOnSuccess(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	accounts := store.repositories().Accounts
	guard := newTestGuard(t, clock)

	until := clock.Now().Add(-time.Second)
	seedAccount(t, store, func(a *domain.Account) {
		a.FailedLoginAttempts = 3
		a.LockedUntil = &until
	})

	account, err := guard.EvaluateLogin(context.Background(), accounts, "acc-1", alicePassword)
	if err != nil {
		t.Fatalf("EvaluateLogin returned error: %v", err)
	}
	if account.FailedLoginAttempts != 0 || account.LockedUntil != nil || account.LastLogin == nil {
		t.Fatalf("unexpected account after success %+v", account)
	}
	persisted := store.account(t, aliceEmail)
	if persisted.FailedLoginAttempts != 0 || persisted.LockedUntil != nil {
		t.Fatalf("expected persisted counters cleared, got %+v", persisted)
	}
}

// lockingHasher simulates a parallel request whose failures lock the account
// while this request is still inside the hash comparison.
type lockingHasher struct {
	port.PasswordHasher
	onVerify func()
}

func (h lockingHasher) Verify(password, digest string) bool {
	ok := h.PasswordHasher.Verify(password, digest)
	h.onVerify()
	return ok
}

func TestAccountGuardKeepsLockCommittedDuringVerify(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	accounts := store.repositories().Accounts
	seed := seedAccount(t, store, nil)

	until := clock.Now().Add(10 * time.Minute)
	hasher := lockingHasher{
		PasswordHasher: newTestHasher(),
		onVerify: func() {
			locked := seed
			locked.FailedLoginAttempts = 3
			locked.LockedUntil = &until
			store.setAccount(locked)
		},
	}
	guard, err := NewAccountGuard(hasher, LockoutPolicy{MaxAttempts: 3, Duration: 10 * time.Minute}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewAccountGuard returned error: %v", err)
	}
	guard.WithClock(clock)

	account, err := guard.EvaluateLogin(context.Background(), accounts, "acc-1", alicePassword)
	if account != nil {
		t.Fatalf("expected no account on a refused login, got %+v", account)
	}
	var locked *LockedError
	if !errors.As(err, &locked) || !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if locked.RemainingMinutes != 10 || !locked.Until.Equal(until) {
		t.Fatalf("unexpected lock detail %+v", locked)
	}

	persisted := store.account(t, aliceEmail)
	if persisted.LockedUntil == nil || !persisted.LockedUntil.Equal(until) {
		t.Fatalf("expected concurrent lock to survive, got %v", persisted.LockedUntil)
	}
	if persisted.FailedLoginAttempts != 3 || persisted.LastLogin != nil {
		t.Fatalf("expected success write skipped, got %+v", persisted)
	}
	if persisted.State(clock.Now()) != domain.AccountStateLocked {
		t.Fatalf("expected locked state, got %s", persisted.State(clock.Now()))
	}
}

func TestAccountGuardUnverifiedDoesNotCountFailure(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	accounts := store.repositories().Accounts
	guard := newTestGuard(t, clock)
	seedAccount(t, store, func(a *domain.Account) { a.EmailVerified = false })

	if _, err := guard.EvaluateLogin(context.Background(), accounts, "acc-1", alicePassword); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if store.account(t, aliceEmail).FailedLoginAttempts != 0 {
		t.Fatalf("expected counter untouched")
	}
}

func TestNewAccountGuardRejectsDisabledPolicy(t *testing.T) {
	if _, err := NewAccountGuard(newTestHasher(), LockoutPolicy{MaxAttempts: 0, Duration: time.Minute}, nil); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
	if _, err := NewAccountGuard(nil, LockoutPolicy{MaxAttempts: 5, Duration: time.Minute}, nil); err == nil {
		t.Fatalf("expected error for missing hasher")
	}
}

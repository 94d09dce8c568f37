package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/infra/security"
	"github.com/arklim/campus-auth/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory stand-in for the auth schema.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	tokens   map[domain.TokenKind]map[string]domain.EphemeralToken

	failGetByEmail error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[string]domain.Account{},
		tokens: map[domain.TokenKind]map[string]domain.EphemeralToken{
			domain.TokenKindEmailVerification: {},
			domain.TokenKindPasswordReset:     {},
		},
	}
}

func (s *memStore) repositories() port.Repositories {
	return port.Repositories{
		Accounts: &memAccountRepository{store: s},
		Tokens:   &memTokenRepository{store: s},
	}
}

func (s *memStore) snapshot() (map[string]domain.Account, map[domain.TokenKind]map[string]domain.EphemeralToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make(map[string]domain.Account, len(s.accounts))
	for id, account := range s.accounts {
		accounts[id] = account
	}
	tokens := make(map[domain.TokenKind]map[string]domain.EphemeralToken, len(s.tokens))
	for kind, byToken := range s.tokens {
		copied := make(map[string]domain.EphemeralToken, len(byToken))
		for value, token := range byToken {
			copied[value] = token
		}
		tokens[kind] = copied
	}
	return accounts, tokens
}

func (s *memStore) restore(accounts map[string]domain.Account, tokens map[domain.TokenKind]map[string]domain.EphemeralToken) {
	s.mu.Lock()
	s.accounts = accounts
	s.tokens = tokens
	s.mu.Unlock()
}

func (s *memStore) account(t *testing.T, email string) domain.Account {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.Email == domain.NormalizeEmail(email) {
			return account
		}
	}
	t.Fatalf("account %s not found", email)
	return domain.Account{}
}

func (s *memStore) setAccount(account domain.Account) {
	s.mu.Lock()
	s.accounts[account.ID] = account
	s.mu.Unlock()
}

func (s *memStore) tokenCount(kind domain.TokenKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens[kind])
}

func (s *memStore) token(kind domain.TokenKind, value string) (domain.EphemeralToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[kind][value]
	return token, ok
}

type memAccountRepository struct {
	store *memStore
}

func (r *memAccountRepository) Create(_ context.Context, account domain.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	account.Email = domain.NormalizeEmail(account.Email)
	for _, existing := range r.store.accounts {
		if existing.Email == account.Email {
			return fmt.Errorf("%w: accounts_email_lower_key", repository.ErrConflict)
		}
	}
	r.store.accounts[account.ID] = account
	return nil
}

func (r *memAccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	account, ok := r.store.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &account, nil
}

func (r *memAccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if r.store.failGetByEmail != nil {
		return nil, r.store.failGetByEmail
	}
	normalized := domain.NormalizeEmail(email)
	for _, account := range r.store.accounts {
		if account.Email == normalized {
			copied := account
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memAccountRepository) mutate(id string, fn func(*domain.Account)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	account, ok := r.store.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&account)
	r.store.accounts[id] = account
	return nil
}

func (r *memAccountRepository) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.EmailVerified = true
		a.UpdatedAt = at
	})
}

func (r *memAccountRepository) IncrementFailedAttempts(_ context.Context, id string, at time.Time) (int, error) {
	var attempts int
	err := r.mutate(id, func(a *domain.Account) {
		if a.HasStaleLock(at) {
			a.FailedLoginAttempts = 1
			a.LockedUntil = nil
		} else {
			a.FailedLoginAttempts++
		}
		a.UpdatedAt = at
		attempts = a.FailedLoginAttempts
	})
	return attempts, err
}

func (r *memAccountRepository) Lock(_ context.Context, id string, until time.Time, threshold int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	account, ok := r.store.accounts[id]
	if !ok || account.FailedLoginAttempts < threshold {
		return nil
	}
	account.LockedUntil = &until
	r.store.accounts[id] = account
	return nil
}

func (r *memAccountRepository) RecordSuccessfulLogin(_ context.Context, id string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	account, ok := r.store.accounts[id]
	if !ok || account.IsLocked(at) {
		return repository.ErrNotFound
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	account.LastLogin = &at
	account.UpdatedAt = at
	r.store.accounts[id] = account
	return nil
}

func (r *memAccountRepository) ResetPassword(_ context.Context, id string, hash string, at time.Time) error {
	return r.mutate(id, func(a *domain.Account) {
		a.PasswordHash = hash
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		a.UpdatedAt = at
	})
}

type memTokenRepository struct {
	store *memStore
}

func (r *memTokenRepository) Create(_ context.Context, token domain.EphemeralToken) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.tokens[token.Kind][token.Token]; exists {
		return fmt.Errorf("%w: token pkey", repository.ErrConflict)
	}
	r.store.tokens[token.Kind][token.Token] = token
	return nil
}

func (r *memTokenRepository) Get(_ context.Context, kind domain.TokenKind, value string) (*domain.EphemeralToken, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	token, ok := r.store.tokens[kind][value]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &token, nil
}

func (r *memTokenRepository) Delete(_ context.Context, kind domain.TokenKind, value string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.tokens[kind][value]; !ok {
		return repository.ErrNotFound
	}
	delete(r.store.tokens[kind], value)
	return nil
}

func (r *memTokenRepository) MarkUsed(_ context.Context, kind domain.TokenKind, value string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	token, ok := r.store.tokens[kind][value]
	if !ok || token.Used {
		return repository.ErrNotFound
	}
	token.Used = true
	r.store.tokens[kind][value] = token
	return nil
}

func (r *memTokenRepository) DeleteUnusedForAccount(_ context.Context, kind domain.TokenKind, accountID string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	removed := 0
	for value, token := range r.store.tokens[kind] {
		if token.AccountID == accountID && !token.Used {
			delete(r.store.tokens[kind], value)
			removed++
		}
	}
	return removed, nil
}

func (r *memTokenRepository) PurgeExpired(_ context.Context, kind domain.TokenKind, before time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	removed := 0
	for value, token := range r.store.tokens[kind] {
		if token.ExpiresAt.Before(before) {
			delete(r.store.tokens[kind], value)
			removed++
		}
	}
	return removed, nil
}

// memTransactor restores the store snapshot when fn fails.
type memTransactor struct {
	store *memStore
	calls int
}

func (t *memTransactor) WithinTx(_ context.Context, fn func(repos port.Repositories) error) error {
	t.calls++
	accounts, tokens := t.store.snapshot()
	if err := fn(t.store.repositories()); err != nil {
		t.store.restore(accounts, tokens)
		return err
	}
	return nil
}

type recordingEmailSender struct {
	mu            sync.Mutex
	verifications []domain.EmailVerificationRequestedEvent
	resets        []domain.PasswordResetRequestedEvent
	err           error
}

func (s *recordingEmailSender) SendVerification(_ context.Context, msg domain.EmailVerificationRequestedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications = append(s.verifications, msg)
	return s.err
}

func (s *recordingEmailSender) SendPasswordReset(_ context.Context, msg domain.PasswordResetRequestedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, msg)
	return s.err
}

func (s *recordingEmailSender) lastVerification(t *testing.T) domain.EmailVerificationRequestedEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.verifications) == 0 {
		t.Fatalf("expected a verification email")
	}
	return s.verifications[len(s.verifications)-1]
}

func (s *recordingEmailSender) lastReset(t *testing.T) domain.PasswordResetRequestedEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.resets) == 0 {
		t.Fatalf("expected a password reset email")
	}
	return s.resets[len(s.resets)-1]
}

type staticProbe bool

func (p staticProbe) Available(context.Context) bool { return bool(p) }

type fakeMetrics struct {
	logins        map[string]int
	lockouts      int
	registrations int
	tokens        map[string]int
	emails        map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{logins: map[string]int{}, tokens: map[string]int{}, emails: map[string]int{}}
}

func (m *fakeMetrics) ObserveLogin(outcome string)         { m.logins[outcome]++ }
func (m *fakeMetrics) ObserveLockout()                     { m.lockouts++ }
func (m *fakeMetrics) ObserveRegistration()                { m.registrations++ }
func (m *fakeMetrics) ObserveTokenIssued(tokenType string) { m.tokens[tokenType]++ }
func (m *fakeMetrics) ObserveEmail(kind, outcome string)   { m.emails[kind+":"+outcome]++ }

type memRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]string
	err     error
}

func newMemRevocationStore() *memRevocationStore {
	return &memRevocationStore{revoked: map[string]string{}}
}

func (s *memRevocationStore) MarkRevoked(_ context.Context, jti, reason string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = reason
	return nil
}

func (s *memRevocationStore) IsRevoked(_ context.Context, jti string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, "", s.err
	}
	reason, ok := s.revoked[jti]
	return ok, reason, nil
}

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

func newTestJWTManager(t *testing.T, clock *fakeClock) *security.JWTManager {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if testKeyErr != nil {
		t.Fatalf("generate rsa key: %v", testKeyErr)
	}
	return security.NewJWTManager(security.NewStaticKeyProvider("test", testKey), "campus-auth", "campus").
		WithClock(clock.Now)
}

func newTestHasher() *security.BcryptHasher {
	return security.NewBcryptHasher(bcrypt.MinCost)
}

type fixtureOptions struct {
	autoVerify  bool
	revocations port.RevocationStore
	probe       port.AvailabilityProbe
	detached    bool
}

type authFixture struct {
	store      *memStore
	tx         *memTransactor
	clock      *fakeClock
	email      *recordingEmailSender
	metrics    *fakeMetrics
	jwt        *security.JWTManager
	issuer     *TokenIssuer
	service    *AuthService
}

func newAuthFixture(t *testing.T, opts ...func(*fixtureOptions)) *authFixture {
	t.Helper()

	var options fixtureOptions
	for _, opt := range opts {
		opt(&options)
	}

	store := newMemStore()
	clock := newFakeClock()
	email := &recordingEmailSender{}
	metrics := newFakeMetrics()
	hasher := newTestHasher()
	manager := newTestJWTManager(t, clock)
	repos := store.repositories()

	guard, err := NewAccountGuard(hasher, LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}, nil)
	if err != nil {
		t.Fatalf("NewAccountGuard returned error: %v", err)
	}
	guard.WithClock(clock).WithMetrics(metrics)

	broker, err := NewTokenBroker(TokenTTLs{EmailVerification: 24 * time.Hour, PasswordReset: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewTokenBroker returned error: %v", err)
	}
	broker.WithClock(clock)

	issuer, err := NewTokenIssuer(manager, repos.Accounts, 15*time.Minute, 168*time.Hour, nil)
	if err != nil {
		t.Fatalf("NewTokenIssuer returned error: %v", err)
	}
	issuer.WithClock(clock).WithMetrics(metrics)
	if options.revocations != nil {
		issuer.WithRevocation(options.revocations)
	}

	tx := &memTransactor{store: store}
	service, err := NewAuthService(AuthDependencies{
		Repositories: repos,
		Transactor:   tx,
		Hasher:       hasher,
		Policy:       security.NewPasswordPolicy(security.PolicySettings{MinLength: 8}),
		Guard:        guard,
		Broker:       broker,
		Issuer:       issuer,
		Email:        email,
		EmailProbe:   options.probe,
		AutoVerify:   options.autoVerify,
	})
	if err != nil {
		t.Fatalf("NewAuthService returned error: %v", err)
	}
	service.WithClock(clock).WithMetrics(metrics)
	if !options.detached {
		service.dispatch = func(task func()) { task() }
	}

	return &authFixture{
		store:   store,
		tx:      tx,
		clock:   clock,
		email:   email,
		metrics: metrics,
		jwt:     manager,
		issuer:  issuer,
		service: service,
	}
}

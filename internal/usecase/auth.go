package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/infra/logger"
	"github.com/arklim/campus-auth/internal/repository"
)

const (
	tracerName = "github.com/arklim/campus-auth/internal/usecase"

	// TokenTypeBearer is the token_type advertised with issued access tokens.
	TokenTypeBearer = "Bearer"

	maxNameLength  = 100
	maxEmailLength = 254

	// timingEqualizerPassword is hashed once so unknown-email logins spend the same work as real ones.
	timingEqualizerPassword = "campus-auth-timing-equalizer"

	detachedTaskTimeout = 15 * time.Second
)

// RegisterInput carries the registration form.
type RegisterInput struct {
	Name           string
	Email          string
	Password       string
	Role           string
	PrivacyConsent bool
	TermsAccepted  bool
}

// RegisterResult summarises the created account.
type RegisterResult struct {
	AccountID     string
	Email         string
	Name          string
	Role          domain.Role
	EmailVerified bool
}

// LoginInput carries the login form.
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	Account          domain.Account
	AccessToken      string
	RefreshToken     string
	TokenType        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	ExpiresIn        int64
}

// RefreshResult is returned when a refresh token is exchanged.
type RefreshResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	ExpiresIn   int64
}

// ResetPasswordInput carries the password reset completion form.
type ResetPasswordInput struct {
	Token       string
	NewPassword string
}

// LogoutInput carries the tokens presented at logout. Both are optional.
type LogoutInput struct {
	AccessToken  string
	RefreshToken string
}

// AuthDependencies groups the collaborators of AuthService.
type AuthDependencies struct {
	Repositories port.Repositories
	Transactor   port.Transactor
	Hasher       port.PasswordHasher
	Policy       port.PasswordPolicyValidator
	Guard        *AccountGuard
	Broker       *TokenBroker
	Issuer       *TokenIssuer
	// Email is optional; without it no credential emails are sent.
	Email port.EmailSender
	// EmailProbe is optional; when it reports unavailable, sends are skipped.
	EmailProbe port.AvailabilityProbe
	Logger     *zap.Logger
	// AutoVerify marks new accounts verified on creation. Only enabled outside production.
	AutoVerify bool
}

// AuthService coordinates registration, login and credential recovery flows.
type AuthService struct {
	repos      port.Repositories
	tx         port.Transactor
	hasher     port.PasswordHasher
	policy     port.PasswordPolicyValidator
	guard      *AccountGuard
	broker     *TokenBroker
	issuer     *TokenIssuer
	email      port.EmailSender
	emailProbe port.AvailabilityProbe
	logger     *zap.Logger
	clock      port.Clock
	metrics    AuthMetrics
	tracer     trace.Tracer
	autoVerify bool

	equalizerOnce sync.Once
	equalizerHash string

	dispatch func(task func())
	pending  sync.WaitGroup
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDependencies) (*AuthService, error) {
	switch {
	case deps.Repositories.Accounts == nil || deps.Repositories.Tokens == nil:
		return nil, fmt.Errorf("repositories are required")
	case deps.Transactor == nil:
		return nil, fmt.Errorf("transactor is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("password hasher is required")
	case deps.Guard == nil:
		return nil, fmt.Errorf("account guard is required")
	case deps.Broker == nil:
		return nil, fmt.Errorf("token broker is required")
	case deps.Issuer == nil:
		return nil, fmt.Errorf("token issuer is required")
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	service := &AuthService{
		repos:      deps.Repositories,
		tx:         deps.Transactor,
		hasher:     deps.Hasher,
		policy:     deps.Policy,
		guard:      deps.Guard,
		broker:     deps.Broker,
		issuer:     deps.Issuer,
		email:      deps.Email,
		emailProbe: deps.EmailProbe,
		logger:     log,
		clock:      port.SystemClock(),
		tracer:     otel.Tracer(tracerName),
		autoVerify: deps.AutoVerify,
	}
	service.dispatch = service.spawn
	return service, nil
}

// WithClock overrides the time source used for timestamps.
func (s *AuthService) WithClock(clock port.Clock) *AuthService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithMetrics attaches an optional metrics recorder.
func (s *AuthService) WithMetrics(metrics AuthMetrics) *AuthService {
	s.metrics = metrics
	return s
}

// Register creates an unverified account and emails a verification token.
// Email delivery failures are logged and never fail the registration.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (result RegisterResult, err error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return RegisterResult{}, NewValidationError("name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return RegisterResult{}, NewValidationError("name", fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	email, err := normalizeEmailInput(input.Email)
	if err != nil {
		return RegisterResult{}, err
	}
	role, err := domain.ParseRole(input.Role)
	if err != nil {
		return RegisterResult{}, NewValidationError("role", roleChoicesMessage())
	}
	if !input.PrivacyConsent {
		return RegisterResult{}, NewValidationError("privacy_consent", "privacy policy must be accepted")
	}
	if !input.TermsAccepted {
		return RegisterResult{}, NewValidationError("terms_accepted", "terms of service must be accepted")
	}
	if err := s.validatePassword(input.Password, email, name); err != nil {
		return RegisterResult{}, err
	}

	if _, err := s.repos.Accounts.GetByEmail(ctx, email); err == nil {
		return RegisterResult{}, ErrEmailExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return RegisterResult{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:             uuid.NewString(),
		Name:           name,
		Email:          email,
		PasswordHash:   hash,
		Role:           role,
		EmailVerified:  s.autoVerify,
		IsActive:       true,
		PrivacyConsent: true,
		TermsAccepted:  true,
		ConsentedAt:    &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var verification domain.EphemeralToken
	err = s.tx.WithinTx(ctx, func(repos port.Repositories) error {
		if err := repos.Accounts.Create(ctx, account); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrEmailExists
			}
			return fmt.Errorf("create account: %w", err)
		}
		if account.EmailVerified {
			return nil
		}
		token, err := s.broker.Issue(ctx, repos.Tokens, account.ID, domain.TokenKindEmailVerification)
		if err != nil {
			return err
		}
		verification = token
		return nil
	})
	if err != nil {
		return RegisterResult{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveRegistration()
	}
	logger.WithContext(ctx, s.logger).Info("account registered",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
		zap.String("role", role.String()),
		zap.Bool("auto_verified", account.EmailVerified),
	)

	if !account.EmailVerified {
		s.sendVerification(ctx, account, verification)
	}

	return RegisterResult{
		AccountID:     account.ID,
		Email:         account.Email,
		Name:          account.Name,
		Role:          account.Role,
		EmailVerified: account.EmailVerified,
	}, nil
}

// VerifyEmail redeems a verification token and marks the bound account verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (err error) {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyEmail")
	defer func() { endSpan(span, err) }()

	var accountID string
	err = s.tx.WithinTx(ctx, func(repos port.Repositories) error {
		id, err := s.broker.Consume(ctx, repos.Tokens, token, domain.TokenKindEmailVerification)
		if err != nil {
			return err
		}
		if err := repos.Accounts.MarkEmailVerified(ctx, id, s.clock.Now()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("mark email verified: %w", err)
		}
		accountID = id
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithContext(ctx, s.logger).Info("email verified", zap.String("account_id", accountID))
	return nil
}

// Login authenticates an email and password pair and issues access and refresh tokens.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (result *LoginResult, err error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveLogin(loginOutcome(err))
		}
		endSpan(span, err)
	}()

	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, NewValidationError("email", "email is required")
	}
	if input.Password == "" {
		return nil, NewValidationError("password", "password is required")
	}

	account, err := s.repos.Accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.equalizeTiming(input.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	account, err = s.guard.EvaluateLogin(ctx, s.repos.Accounts, account.ID, input.Password)
	if err != nil {
		if IsExpected(err) {
			logger.WithContext(ctx, s.logger).Debug("login rejected",
				zap.String("email", logger.MaskEmail(email)),
				zap.String("code", ErrorCode(err)),
			)
		}
		return nil, err
	}

	accessToken, accessExpiresAt, err := s.issuer.IssueAccessToken(account.ID, account.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, refreshExpiresAt, err := s.issuer.IssueRefreshToken(account.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	logger.WithContext(ctx, s.logger).Info("login succeeded", zap.String("account_id", account.ID))

	return &LoginResult{
		Account:          account.Sanitized(),
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        TokenTypeBearer,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
		ExpiresIn:        int64(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (result *RefreshResult, err error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer func() { endSpan(span, err) }()

	accessToken, expiresAt, err := s.issuer.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	return &RefreshResult{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresAt:   expiresAt,
		ExpiresIn:   int64(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// ForgotPassword emails a reset token when the email belongs to an active account.
// The outcome is identical whether or not the account exists. Token issuance and
// delivery run off the request path so a registered email costs the caller no
// more time than an unknown one.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := s.startSpan(ctx, "AuthService.ForgotPassword")
	defer func() { endSpan(span, err) }()

	normalized, err := normalizeEmailInput(email)
	if err != nil {
		return err
	}

	account, err := s.repos.Accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.WithContext(ctx, s.logger).Debug("password reset requested for unknown email",
				zap.String("email", logger.MaskEmail(normalized)))
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if !account.IsActive {
		logger.WithContext(ctx, s.logger).Debug("password reset requested for inactive account",
			zap.String("account_id", account.ID))
		return nil
	}

	target := *account
	s.runDetached(ctx, "AuthService.issuePasswordReset", func(ctx context.Context) error {
		var token domain.EphemeralToken
		err := s.tx.WithinTx(ctx, func(repos port.Repositories) error {
			issued, err := s.broker.Issue(ctx, repos.Tokens, target.ID, domain.TokenKindPasswordReset)
			if err != nil {
				return err
			}
			token = issued
			return nil
		})
		if err != nil {
			return err
		}

		s.sendPasswordReset(ctx, target, token)
		return nil
	})
	return nil
}

// ResendVerification reissues a verification token for an unverified account.
// Like ForgotPassword it reveals nothing about whether the email is registered.
func (s *AuthService) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, span := s.startSpan(ctx, "AuthService.ResendVerification")
	defer func() { endSpan(span, err) }()

	normalized, err := normalizeEmailInput(email)
	if err != nil {
		return err
	}

	account, err := s.repos.Accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	if !account.IsActive || account.EmailVerified {
		return nil
	}

	target := *account
	s.runDetached(ctx, "AuthService.reissueVerification", func(ctx context.Context) error {
		var token domain.EphemeralToken
		err := s.tx.WithinTx(ctx, func(repos port.Repositories) error {
			if _, err := repos.Tokens.DeleteUnusedForAccount(ctx, domain.TokenKindEmailVerification, target.ID); err != nil {
				return fmt.Errorf("delete prior verification tokens: %w", err)
			}
			issued, err := s.broker.Issue(ctx, repos.Tokens, target.ID, domain.TokenKindEmailVerification)
			if err != nil {
				return err
			}
			token = issued
			return nil
		})
		if err != nil {
			return err
		}

		s.sendVerification(ctx, target, token)
		return nil
	})
	return nil
}

// ResetPassword replaces the password of the account bound to a reset token.
// The hash swap and the token flip commit together.
func (s *AuthService) ResetPassword(ctx context.Context, input ResetPasswordInput) (err error) {
	ctx, span := s.startSpan(ctx, "AuthService.ResetPassword")
	defer func() { endSpan(span, err) }()

	token, err := s.broker.Peek(ctx, s.repos.Tokens, input.Token, domain.TokenKindPasswordReset)
	if err != nil {
		return err
	}

	account, err := s.repos.Accounts.GetByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load account: %w", err)
	}

	if err := s.validatePassword(input.NewPassword, account.Email, account.Name); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(repos port.Repositories) error {
		accountID, err := s.broker.Consume(ctx, repos.Tokens, token.Token, domain.TokenKindPasswordReset)
		if err != nil {
			return err
		}
		if accountID != account.ID {
			return ErrInvalidToken
		}
		if err := repos.Accounts.ResetPassword(ctx, accountID, hash, s.clock.Now()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("reset password: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithContext(ctx, s.logger).Info("password reset completed", zap.String("account_id", account.ID))
	return nil
}

// Logout revokes the presented tokens when a revocation store is configured.
// Otherwise it is a no-op and tokens stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) (err error) {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer func() { endSpan(span, err) }()

	if err := s.issuer.Revoke(ctx, input.AccessToken); err != nil {
		return err
	}
	return s.issuer.Revoke(ctx, input.RefreshToken)
}

// CurrentAccount loads the account behind a verified access token.
func (s *AuthService) CurrentAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.repos.Accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}

	sanitized := account.Sanitized()
	return &sanitized, nil
}

// PurgeExpiredTokens removes elapsed verification and reset tokens.
func (s *AuthService) PurgeExpiredTokens(ctx context.Context) (int, error) {
	return s.broker.PurgeExpired(ctx, s.repos.Tokens)
}

func (s *AuthService) validatePassword(password string, userInputs ...string) error {
	if password == "" {
		return NewValidationError("password", "password is required")
	}
	if s.policy == nil {
		return nil
	}
	if err := s.policy.Validate(password, userInputs...); err != nil {
		return NewValidationError("password", err.Error())
	}
	return nil
}

func roleChoicesMessage() string {
	names := make([]string, 0, len(domain.Roles()))
	for _, role := range domain.Roles() {
		names = append(names, role.String())
	}
	return "role must be one of " + strings.Join(names, ", ")
}

func (s *AuthService) equalizeTiming(password string) {
	s.equalizerOnce.Do(func() {
		hash, err := s.hasher.Hash(timingEqualizerPassword)
		if err != nil {
			s.logger.Warn("prepare timing equalizer hash", zap.Error(err))
			return
		}
		s.equalizerHash = hash
	})
	if s.equalizerHash != "" {
		_ = s.hasher.Verify(password, s.equalizerHash)
	}
}

func (s *AuthService) sendVerification(ctx context.Context, account domain.Account, token domain.EphemeralToken) {
	s.deliver(ctx, emailKindVerification, account, func(ctx context.Context) error {
		return s.email.SendVerification(ctx, domain.EmailVerificationRequestedEvent{
			EventID:     uuid.NewString(),
			AccountID:   account.ID,
			Email:       account.Email,
			Name:        account.Name,
			Token:       token.Token,
			ExpiresAt:   token.ExpiresAt,
			RequestedAt: s.clock.Now(),
		})
	})
}

func (s *AuthService) sendPasswordReset(ctx context.Context, account domain.Account, token domain.EphemeralToken) {
	s.deliver(ctx, emailKindPasswordReset, account, func(ctx context.Context) error {
		return s.email.SendPasswordReset(ctx, domain.PasswordResetRequestedEvent{
			EventID:     uuid.NewString(),
			AccountID:   account.ID,
			Email:       account.Email,
			Name:        account.Name,
			Token:       token.Token,
			ExpiresAt:   token.ExpiresAt,
			RequestedAt: s.clock.Now(),
		})
	})
}

// deliver hands an email to the sender and swallows failures after logging them.
func (s *AuthService) deliver(ctx context.Context, kind string, account domain.Account, send func(context.Context) error) {
	log := logger.WithContext(ctx, s.logger).With(
		zap.String("email_kind", kind),
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
	)

	outcome := emailOutcomeSent
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveEmail(kind, outcome)
		}
	}()

	if s.email == nil {
		outcome = emailOutcomeSkipped
		log.Warn("email sender not configured, skipping delivery")
		return
	}
	if s.emailProbe != nil && !s.emailProbe.Available(ctx) {
		outcome = emailOutcomeSkipped
		log.Warn("email transport unavailable, skipping delivery")
		return
	}
	if err := send(ctx); err != nil {
		outcome = emailOutcomeFailed
		log.Error("email delivery failed", zap.Error(err))
	}
}

// runDetached executes task on the dispatcher. The task context keeps the
// request values but not its cancellation, and is bounded by its own deadline.
func (s *AuthService) runDetached(ctx context.Context, name string, task func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(detached, detachedTaskTimeout)
		defer cancel()

		ctx, span := s.startSpan(ctx, name)
		err := task(ctx)
		endSpan(span, err)
		if err != nil {
			logger.WithContext(ctx, s.logger).Error("background auth task failed",
				zap.String("task", name), zap.Error(err))
		}
	})
}

func (s *AuthService) spawn(task func()) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		task()
	}()
}

// Drain blocks until background token deliveries finish or ctx ends.
// Call it after the HTTP server has stopped accepting requests.
func (s *AuthService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_code", ErrorCode(err)))
		if !IsExpected(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func normalizeEmailInput(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	if email == "" {
		return "", NewValidationError("email", "email is required")
	}
	if len(email) > maxEmailLength {
		return "", NewValidationError("email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", NewValidationError("email", "email is invalid")
	}
	return email, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/infra/config"
	"github.com/arklim/campus-auth/internal/infra/database"
	kafkainfra "github.com/arklim/campus-auth/internal/infra/kafka"
	"github.com/arklim/campus-auth/internal/infra/logger"
	"github.com/arklim/campus-auth/internal/infra/probe"
	redisinfra "github.com/arklim/campus-auth/internal/infra/redis"
	"github.com/arklim/campus-auth/internal/infra/security"
	"github.com/arklim/campus-auth/internal/infra/telemetry"
	postgresrepo "github.com/arklim/campus-auth/internal/repository/postgres"
	redisrepo "github.com/arklim/campus-auth/internal/repository/redis"
	"github.com/arklim/campus-auth/internal/transport/http/middleware"
	"github.com/arklim/campus-auth/internal/transport/http/routes"
	"github.com/arklim/campus-auth/internal/usecase"
)

// Version is stamped at build time with -ldflags "-X .../internal/infra/app.Version=...".
var Version = "dev"

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	auth     *usecase.AuthService
}

func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if cfg.Telemetry.TracingEnabled {
		a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, Version, cfg.App.Env, log)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
	}

	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	if cfg.Postgres.RunMigrations {
		if err := database.Migrate(ctx, a.pool, log); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	a.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	keyProvider, ephemeral, err := security.NewKeyProvider(cfg.IsProduction(), cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	if ephemeral {
		log.Warn("jwt key directory not found, signing with an ephemeral key",
			zap.String("key_directory", cfg.JWT.KeyDirectory),
		)
	}
	jwtManager := security.NewJWTManager(keyProvider, cfg.JWT.Issuer, cfg.JWT.Audience)

	authMetrics, err := telemetry.NewAuthMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	repos := postgresrepo.NewRepositories(a.pool)
	hasher := security.NewBcryptHasher(cfg.Security.BcryptCost)

	emailSender, emailProbe := a.buildEmailSender()

	guard, err := usecase.NewAccountGuard(hasher, usecase.LockoutPolicy{
		MaxAttempts: cfg.Security.MaxLoginAttempts,
		Duration:    cfg.Security.LockoutDuration(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init account guard: %w", err)
	}
	guard.WithMetrics(authMetrics)

	broker, err := usecase.NewTokenBroker(usecase.TokenTTLs{
		EmailVerification: cfg.Tokens.EmailVerificationTTL,
		PasswordReset:     cfg.Tokens.PasswordResetTTL,
	}, security.RandomTokenSource)
	if err != nil {
		return nil, fmt.Errorf("init token broker: %w", err)
	}

	issuer, err := usecase.NewTokenIssuer(jwtManager, repos.Accounts, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL, log)
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}
	issuer.WithMetrics(authMetrics)
	if cfg.Revocation.Enabled {
		issuer.WithRevocation(redisrepo.NewRevocationRepository(a.redis.Client(), cfg.Revocation.KeyPrefix))
		log.Info("access token revocation enabled")
	}

	a.auth, err = usecase.NewAuthService(usecase.AuthDependencies{
		Repositories: repos,
		Transactor:   postgresrepo.NewTransactor(a.pool),
		Hasher:       hasher,
		Policy: security.NewPasswordPolicy(security.PolicySettings{
			MinLength:   cfg.Security.MinPasswordLength,
			MinStrength: cfg.Security.MinPasswordStrength,
		}),
		Guard:      guard,
		Broker:     broker,
		Issuer:     issuer,
		Email:      emailSender,
		EmailProbe: emailProbe,
		Logger:     log,
		AutoVerify: cfg.Security.AutoVerifyNonProduction && !cfg.IsProduction(),
	})
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}
	a.auth.WithMetrics(authMetrics)

	rateLimiter := middleware.NewRateLimiter(
		redisrepo.NewRateLimitRepository(a.redis.Client(), cfg.Redis.RateLimitPrefix),
		log,
	)

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Auth:        a.auth,
		Verifier:    issuer,
		JWTManager:  jwtManager,
		HTTPMetrics: httpMetrics,
		Readiness: []routes.ReadinessChecker{
			database.PoolChecker{Pool: a.pool},
			a.redis,
		},
	})

	return a, nil
}

// buildEmailSender prefers the Kafka mailer hand-off and degrades to the logging stub.
func (a *Application) buildEmailSender() (port.EmailSender, port.AvailabilityProbe) {
	stub := kafkainfra.NewStubEmailSender(a.logger, !a.cfg.IsProduction())

	if !a.cfg.Kafka.Enabled || len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka disabled, emails are logged only")
		return stub, nil
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, emails are logged only", zap.Error(err))
		return stub, nil
	}
	a.producer = producer

	availability := probe.NewAvailability(producer.Name(), producer.Check, a.cfg.Probe.TTL, a.logger)
	a.logger.Info("kafka email publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))

	return kafkainfra.NewEmailPublisher(producer, a.cfg.App), availability
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("version", Version),
	)

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go a.purgeExpiredTokens(purgeCtx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) purgeExpiredTokens(ctx context.Context) {
	interval := a.cfg.Tokens.PurgeInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.auth.PurgeExpiredTokens(ctx)
			if err != nil {
				a.logger.Warn("purge expired tokens failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				a.logger.Info("purged expired tokens", zap.Int("removed", removed))
			}
		}
	}
}

func (a *Application) close(ctx context.Context) {
	if a.auth != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.auth.Drain(drainCtx); err != nil {
			a.logger.Warn("background email deliveries still pending at shutdown", zap.Error(err))
		}
		cancel()
	}
	if a.tracer != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.tracer.ForceFlush(flushCtx); err != nil {
			a.logger.Warn("flush spans before closing backends", zap.Error(err))
		}
		cancel()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
